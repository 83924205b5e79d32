package backends

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/photobooth-app/photobooth/config"
)

// WebcamV4LBackend captures from a camera addressed by its /dev/videoN path
// through the Video4Linux2 API. Same worker shape as the cv2 backend; the
// explicit device path keeps kiosk setups stable when USB enumeration order
// changes.
type WebcamV4LBackend struct {
	cfg config.GroupBackendWebcamV4L

	buffer   *FrameBuffer
	watchdog *watchdog
	recorder *frameRecorder

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	frameCount atomic.Uint64
	startedAt  time.Time
}

func NewWebcamV4LBackend(cfg config.GroupBackendWebcamV4L) *WebcamV4LBackend {
	buffer := NewFrameBuffer()
	period := time.Duration(cfg.WatchdogSeconds) * time.Second
	if period <= 0 {
		period = 5 * time.Second
	}
	return &WebcamV4LBackend{
		cfg:      cfg,
		buffer:   buffer,
		watchdog: newWatchdog("webcamv4l", buffer, period),
		recorder: newFrameRecorder(buffer),
	}
}

func (b *WebcamV4LBackend) Name() string { return "webcamv4l" }

func (b *WebcamV4LBackend) devicePath() string {
	if b.cfg.DevicePath != "" {
		return b.cfg.DevicePath
	}
	return "/dev/video0"
}

func (b *WebcamV4LBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	device, err := gocv.OpenVideoCaptureWithAPI(b.devicePath(), gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("%w: failed to open video device %s: %v", ErrBackendUnavailable, b.devicePath(), err)
	}
	if b.cfg.CamResolutionW > 0 {
		device.Set(gocv.VideoCaptureFrameWidth, float64(b.cfg.CamResolutionW))
	}
	if b.cfg.CamResolutionH > 0 {
		device.Set(gocv.VideoCaptureFrameHeight, float64(b.cfg.CamResolutionH))
	}

	b.buffer.Reset()
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.startedAt = time.Now()
	b.frameCount.Store(0)

	go b.worker(device)

	b.watchdog.start()
	b.running = true

	log.Printf("webcamv4l: backend started on %s", b.devicePath())
	return nil
}

func (b *WebcamV4LBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	close(b.stop)
	<-b.done
	b.watchdog.halt()
	b.buffer.Close()
	b.running = false
	log.Printf("webcamv4l: backend stopped")
}

// worker owns the device handle; it closes it on exit.
func (b *WebcamV4LBackend) worker(device *gocv.VideoCapture) {
	defer close(b.done)
	defer device.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if ok := device.Read(&mat); !ok || mat.Empty() {
			log.Printf("webcamv4l: empty frame read, device lost?")
			b.watchdog.markFaulty()
			return
		}

		jpeg, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			log.Printf("webcamv4l: failed to encode frame: %v", err)
			continue
		}
		frame := make([]byte, len(jpeg.GetBytes()))
		copy(frame, jpeg.GetBytes())
		jpeg.Close()

		b.buffer.Publish(frame)
		b.frameCount.Add(1)
	}
}

// WaitForStillFile uses the current frame; V4L2 webcams deliver stills from
// the same stream as the preview.
func (b *WebcamV4LBackend) WaitForStillFile(timeout time.Duration) (string, error) {
	if !b.DeviceAlive() {
		return "", ErrBackendUnavailable
	}

	frame, err := b.buffer.Wait(timeout)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "photobooth_v4l_*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create still file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(frame); err != nil {
		return "", fmt.Errorf("failed to write still file: %w", err)
	}
	return f.Name(), nil
}

func (b *WebcamV4LBackend) WaitForLoresImage(timeout time.Duration) ([]byte, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}
	return b.buffer.Wait(timeout)
}

func (b *WebcamV4LBackend) WaitForMulticamFiles(time.Duration) ([]string, error) {
	return nil, ErrNotSupported
}

func (b *WebcamV4LBackend) StartRecording(framerate int) error {
	if !b.DeviceAlive() {
		return ErrBackendUnavailable
	}
	return b.recorder.start(framerate)
}

func (b *WebcamV4LBackend) StopRecording() error {
	return b.recorder.stopRecording()
}

func (b *WebcamV4LBackend) GetRecordedVideo() (string, error) {
	return b.recorder.video()
}

func (b *WebcamV4LBackend) DeviceAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.watchdog.markedFaulty()
}

// DeviceAvailable probes whether the device node exists at all.
func (b *WebcamV4LBackend) DeviceAvailable() bool {
	_, err := os.Stat(b.devicePath())
	return err == nil
}

func (b *WebcamV4LBackend) MarkedFaulty() bool { return b.watchdog.markedFaulty() }

func (b *WebcamV4LBackend) ConfigureOptimizedForIdle()      {}
func (b *WebcamV4LBackend) ConfigureOptimizedForHQPreview() {}
func (b *WebcamV4LBackend) ConfigureOptimizedForHQCapture() {}
func (b *WebcamV4LBackend) ConfigureOptimizedForVideo()     {}

func (b *WebcamV4LBackend) Stats() BackendStats {
	elapsed := time.Since(b.startedAt).Seconds()
	var fps float64
	if elapsed > 0 {
		fps = float64(b.frameCount.Load()) / elapsed
	}
	return BackendStats{BackendName: b.Name(), Fps: fps}
}
