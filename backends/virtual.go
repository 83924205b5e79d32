package backends

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/photobooth-app/photobooth/config"
)

// VirtualBackend synthesizes frames without any device. It backs tests and
// demo setups and supports the full capability set including multicam.
type VirtualBackend struct {
	cfg config.GroupBackendVirtual

	buffer   *FrameBuffer
	watchdog *watchdog
	recorder *frameRecorder

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	frameCount atomic.Uint64
	startedAt  time.Time

	// test hook: when set the worker stops publishing frames so the
	// watchdog trips like on a real device loss
	frozen atomic.Bool
}

func NewVirtualBackend(cfg config.GroupBackendVirtual) *VirtualBackend {
	buffer := NewFrameBuffer()
	return &VirtualBackend{
		cfg:      cfg,
		buffer:   buffer,
		watchdog: newWatchdog("virtual", buffer, 3*time.Second),
		recorder: newFrameRecorder(buffer),
	}
}

func (b *VirtualBackend) Name() string { return "virtual" }

func (b *VirtualBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	b.buffer.Reset()
	b.frozen.Store(false)
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.startedAt = time.Now()
	b.frameCount.Store(0)

	go b.worker()

	b.watchdog.start()
	b.running = true

	log.Printf("virtual: backend started (%dx%d @ %d fps)", b.cfg.Width, b.cfg.Height, b.cfg.Framerate)
	return nil
}

func (b *VirtualBackend) Stop() {
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
	log.Printf("virtual: backend stopped")
}

func (b *VirtualBackend) worker() {
	defer close(b.done)

	fps := b.cfg.Framerate
	if fps <= 0 {
		fps = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ticker.C:
			if b.frozen.Load() {
				continue
			}
			frame, err := b.renderFrame(n)
			if err != nil {
				log.Printf("virtual: failed to render frame: %v", err)
				continue
			}
			b.buffer.Publish(frame)
			b.frameCount.Add(1)
			n++
		case <-b.stop:
			return
		}
	}
}

// renderFrame draws a synthetic scene: color gradient with a block moving
// along the bottom so successive frames differ.
func (b *VirtualBackend) renderFrame(n int) ([]byte, error) {
	w, h := b.cfg.Width, b.cfg.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(255 * x / w),
				G: uint8(255 * y / h),
				B: uint8((n * 4) % 255),
				A: 255,
			})
		}
	}

	blockW := w / 8
	blockX := (n * 8) % (w - blockW)
	for y := h - h/8; y < h; y++ {
		for x := blockX; x < blockX+blockW; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("failed to encode synthetic frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *VirtualBackend) WaitForStillFile(timeout time.Duration) (string, error) {
	if !b.DeviceAlive() {
		return "", ErrBackendUnavailable
	}

	// emulate the shutter delay of a real camera
	if b.cfg.EmulateCameraDelayStillS > 0 {
		time.Sleep(time.Duration(b.cfg.EmulateCameraDelayStillS * float64(time.Second)))
	}

	frame, err := b.buffer.Wait(timeout)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "photobooth_virtual_*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create still file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(frame); err != nil {
		return "", fmt.Errorf("failed to write still file: %w", err)
	}
	return f.Name(), nil
}

func (b *VirtualBackend) WaitForLoresImage(timeout time.Duration) ([]byte, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}
	return b.buffer.Wait(timeout)
}

// WaitForMulticamFiles emulates a small synchronized camera pool by writing
// three consecutive frames.
func (b *VirtualBackend) WaitForMulticamFiles(timeout time.Duration) ([]string, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}

	paths := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		path, err := b.WaitForStillFile(timeout)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (b *VirtualBackend) StartRecording(framerate int) error {
	if !b.DeviceAlive() {
		return ErrBackendUnavailable
	}
	return b.recorder.start(framerate)
}

func (b *VirtualBackend) StopRecording() error {
	return b.recorder.stopRecording()
}

func (b *VirtualBackend) GetRecordedVideo() (string, error) {
	return b.recorder.video()
}

func (b *VirtualBackend) DeviceAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.watchdog.markedFaulty()
}

func (b *VirtualBackend) DeviceAvailable() bool { return true }

func (b *VirtualBackend) MarkedFaulty() bool { return b.watchdog.markedFaulty() }

func (b *VirtualBackend) ConfigureOptimizedForIdle()      {}
func (b *VirtualBackend) ConfigureOptimizedForHQPreview() {}
func (b *VirtualBackend) ConfigureOptimizedForHQCapture() {}
func (b *VirtualBackend) ConfigureOptimizedForVideo()     {}

func (b *VirtualBackend) Stats() BackendStats {
	elapsed := time.Since(b.startedAt).Seconds()
	var fps float64
	if elapsed > 0 {
		fps = float64(b.frameCount.Load()) / elapsed
	}
	return BackendStats{BackendName: b.Name(), Fps: fps}
}

// Freeze stops frame publishing without stopping the worker, simulating a
// device loss so the watchdog and supervisor recovery can be exercised.
func (b *VirtualBackend) Freeze() { b.frozen.Store(true) }

// ForceFault marks the backend faulty immediately.
func (b *VirtualBackend) ForceFault() { b.watchdog.markFaulty() }
