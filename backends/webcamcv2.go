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

// WebcamCv2Backend captures from USB UVC cameras through OpenCV. One worker
// goroutine owns the device handle exclusively and publishes JPEG frames
// into the latest-wins buffer.
type WebcamCv2Backend struct {
	cfg config.GroupBackendWebcamCv2

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

func NewWebcamCv2Backend(cfg config.GroupBackendWebcamCv2) *WebcamCv2Backend {
	buffer := NewFrameBuffer()
	period := time.Duration(cfg.WatchdogSeconds) * time.Second
	if period <= 0 {
		period = 5 * time.Second
	}
	return &WebcamCv2Backend{
		cfg:      cfg,
		buffer:   buffer,
		watchdog: newWatchdog("webcamcv2", buffer, period),
		recorder: newFrameRecorder(buffer),
	}
}

func (b *WebcamCv2Backend) Name() string { return "webcamcv2" }

func (b *WebcamCv2Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	device, err := gocv.OpenVideoCapture(b.cfg.DeviceIndex)
	if err != nil {
		return fmt.Errorf("%w: failed to open video device %d: %v", ErrBackendUnavailable, b.cfg.DeviceIndex, err)
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

	log.Printf("webcamcv2: backend started on device %d", b.cfg.DeviceIndex)
	return nil
}

func (b *WebcamCv2Backend) Stop() {
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
	log.Printf("webcamcv2: backend stopped")
}

// worker owns the device handle; it closes it on exit.
func (b *WebcamCv2Backend) worker(device *gocv.VideoCapture) {
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
			log.Printf("webcamcv2: empty frame read, device lost?")
			b.watchdog.markFaulty()
			return
		}

		jpeg, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			log.Printf("webcamcv2: failed to encode frame: %v", err)
			continue
		}
		frame := make([]byte, len(jpeg.GetBytes()))
		copy(frame, jpeg.GetBytes())
		jpeg.Close()

		b.buffer.Publish(frame)
		b.frameCount.Add(1)
	}
}

// WaitForStillFile uses the current hires frame; UVC webcams deliver stills
// from the same stream as the preview.
func (b *WebcamCv2Backend) WaitForStillFile(timeout time.Duration) (string, error) {
	if !b.DeviceAlive() {
		return "", ErrBackendUnavailable
	}

	frame, err := b.buffer.Wait(timeout)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "photobooth_webcam_*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create still file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(frame); err != nil {
		return "", fmt.Errorf("failed to write still file: %w", err)
	}
	return f.Name(), nil
}

func (b *WebcamCv2Backend) WaitForLoresImage(timeout time.Duration) ([]byte, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}
	return b.buffer.Wait(timeout)
}

func (b *WebcamCv2Backend) WaitForMulticamFiles(time.Duration) ([]string, error) {
	return nil, ErrNotSupported
}

func (b *WebcamCv2Backend) StartRecording(framerate int) error {
	if !b.DeviceAlive() {
		return ErrBackendUnavailable
	}
	return b.recorder.start(framerate)
}

func (b *WebcamCv2Backend) StopRecording() error {
	return b.recorder.stopRecording()
}

func (b *WebcamCv2Backend) GetRecordedVideo() (string, error) {
	return b.recorder.video()
}

func (b *WebcamCv2Backend) DeviceAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.watchdog.markedFaulty()
}

// DeviceAvailable probes whether the device can be opened at all.
func (b *WebcamCv2Backend) DeviceAvailable() bool {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if running {
		// worker owns the handle; probing would double-open the device
		return true
	}

	device, err := gocv.OpenVideoCapture(b.cfg.DeviceIndex)
	if err != nil {
		return false
	}
	device.Close()
	return true
}

func (b *WebcamCv2Backend) MarkedFaulty() bool { return b.watchdog.markedFaulty() }

func (b *WebcamCv2Backend) ConfigureOptimizedForIdle()      {}
func (b *WebcamCv2Backend) ConfigureOptimizedForHQPreview() {}
func (b *WebcamCv2Backend) ConfigureOptimizedForHQCapture() {}
func (b *WebcamCv2Backend) ConfigureOptimizedForVideo()     {}

func (b *WebcamCv2Backend) Stats() BackendStats {
	elapsed := time.Since(b.startedAt).Seconds()
	var fps float64
	if elapsed > 0 {
		fps = float64(b.frameCount.Load()) / elapsed
	}
	return BackendStats{BackendName: b.Name(), Fps: fps}
}
