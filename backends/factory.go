package backends

import (
	"fmt"

	"github.com/photobooth-app/photobooth/config"
)

// New instantiates the configured driver by name.
func New(name string, cfg config.GroupBackends) (Backend, error) {
	switch name {
	case "virtual":
		return NewVirtualBackend(cfg.Virtual), nil
	case "webcamcv2":
		return NewWebcamCv2Backend(cfg.WebcamCv2), nil
	case "webcamv4l":
		return NewWebcamV4LBackend(cfg.WebcamV4L), nil
	case "picamera2":
		return NewPicamera2Backend(cfg.Picamera2), nil
	case "gphoto2":
		return NewGPhoto2Backend(cfg.GPhoto2), nil
	case "digicamcontrol":
		return NewDigiCamControlBackend(cfg.DigiCamControl), nil
	case "wigglecam":
		return NewWigglecamBackend(cfg.Wigglecam), nil
	default:
		return nil, fmt.Errorf("unknown backend '%s'", name)
	}
}
