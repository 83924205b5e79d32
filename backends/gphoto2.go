package backends

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/photobooth-app/photobooth/config"
)

// GPhoto2Backend drives a DSLR over USB through the gphoto2 CLI. All
// invocations use a fixed argv list. The preview worker polls
// --capture-preview; a still capture interrupts the preview loop because
// gphoto2 cannot share the USB connection between two processes.
type GPhoto2Backend struct {
	cfg config.GroupBackendGPhoto2

	buffer   *FrameBuffer
	watchdog *watchdog

	// serializes all gphoto2 invocations on the single USB connection
	usbMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewGPhoto2Backend(cfg config.GroupBackendGPhoto2) *GPhoto2Backend {
	buffer := NewFrameBuffer()
	period := time.Duration(cfg.WatchdogSeconds) * time.Second
	if period <= 0 {
		period = 10 * time.Second
	}
	return &GPhoto2Backend{
		cfg:      cfg,
		buffer:   buffer,
		watchdog: newWatchdog("gphoto2", buffer, period),
	}
}

func (b *GPhoto2Backend) Name() string { return "gphoto2" }

func (b *GPhoto2Backend) binary() string {
	if b.cfg.Binary != "" {
		return b.cfg.Binary
	}
	return "gphoto2"
}

func (b *GPhoto2Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if !b.deviceDetected() {
		return fmt.Errorf("%w: no camera detected by gphoto2", ErrBackendUnavailable)
	}

	b.buffer.Reset()
	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	go b.previewWorker()

	b.watchdog.start()
	b.running = true

	log.Printf("gphoto2: backend started")
	return nil
}

func (b *GPhoto2Backend) Stop() {
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
	log.Printf("gphoto2: backend stopped")
}

func (b *GPhoto2Backend) previewWorker() {
	defer close(b.done)

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		frame, err := b.capturePreview()
		if err != nil {
			log.Printf("gphoto2: preview capture failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		b.buffer.Publish(frame)
	}
}

func (b *GPhoto2Backend) capturePreview() ([]byte, error) {
	b.usbMu.Lock()
	defer b.usbMu.Unlock()

	cmd := exec.Command(b.binary(), "--capture-preview", "--stdout")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("gphoto2 preview failed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("gphoto2 preview returned no data")
	}
	return out, nil
}

func (b *GPhoto2Backend) deviceDetected() bool {
	b.usbMu.Lock()
	defer b.usbMu.Unlock()

	cmd := exec.Command(b.binary(), "--auto-detect")
	if err := cmd.Run(); err != nil {
		return false
	}
	return true
}

func (b *GPhoto2Backend) WaitForStillFile(timeout time.Duration) (string, error) {
	if !b.DeviceAlive() {
		return "", ErrBackendUnavailable
	}

	f, err := os.CreateTemp("", "photobooth_gphoto2_*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create still file: %w", err)
	}
	f.Close()

	b.usbMu.Lock()
	defer b.usbMu.Unlock()

	done := make(chan error, 1)
	cmd := exec.Command(b.binary(), "--capture-image-and-download", "--force-overwrite", "--filename", f.Name())
	if err := cmd.Start(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to run gphoto2 capture: %w", err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("%w: gphoto2 capture failed: %v", ErrBackendUnavailable, err)
		}
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		os.Remove(f.Name())
		return "", ErrBackendTimeout
	}

	if fi, err := os.Stat(f.Name()); err != nil || fi.Size() == 0 {
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: gphoto2 produced no image", ErrBackendUnavailable)
	}

	return f.Name(), nil
}

func (b *GPhoto2Backend) WaitForLoresImage(timeout time.Duration) ([]byte, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}
	return b.buffer.Wait(timeout)
}

func (b *GPhoto2Backend) WaitForMulticamFiles(time.Duration) ([]string, error) {
	return nil, ErrNotSupported
}

// DSLRs deliver no video through this backend; a live backend handles it.
func (b *GPhoto2Backend) StartRecording(int) error          { return ErrNotSupported }
func (b *GPhoto2Backend) StopRecording() error              { return ErrNotSupported }
func (b *GPhoto2Backend) GetRecordedVideo() (string, error) { return "", ErrNotSupported }

func (b *GPhoto2Backend) DeviceAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.watchdog.markedFaulty()
}

func (b *GPhoto2Backend) DeviceAvailable() bool { return b.deviceDetected() }

func (b *GPhoto2Backend) MarkedFaulty() bool { return b.watchdog.markedFaulty() }

func (b *GPhoto2Backend) ConfigureOptimizedForIdle()      {}
func (b *GPhoto2Backend) ConfigureOptimizedForHQPreview() {}
func (b *GPhoto2Backend) ConfigureOptimizedForHQCapture() {}
func (b *GPhoto2Backend) ConfigureOptimizedForVideo()     {}

func (b *GPhoto2Backend) Stats() BackendStats {
	return BackendStats{BackendName: b.Name()}
}
