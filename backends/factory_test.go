package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photobooth-app/photobooth/config"
)

func TestNewKnownDrivers(t *testing.T) {
	cfg := config.Default().Backends

	for _, name := range []string{
		"virtual", "webcamcv2", "webcamv4l", "picamera2",
		"gphoto2", "digicamcontrol", "wigglecam",
	} {
		b, err := New(name, cfg)
		require.NoError(t, err, name)
		assert.Equal(t, name, b.Name())
	}
}

func TestNewUnknownDriverFails(t *testing.T) {
	_, err := New("polaroid", config.Default().Backends)
	assert.Error(t, err)
}
