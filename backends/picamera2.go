package backends

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/photobooth-app/photobooth/config"
)

// Picamera2Backend drives a Raspberry Pi camera through the rpicam CLI
// tools. All invocations use a fixed argv list. The camera handles one
// consumer at a time, so preview polling, stills and recording are
// serialized; the preview worker pauses while a recording runs.
type Picamera2Backend struct {
	cfg config.GroupBackendPicamera2

	buffer   *FrameBuffer
	watchdog *watchdog

	// serializes rpicam invocations on the single camera
	camMu sync.Mutex

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	done       chan struct{}
	recording  bool
	recordCmd  *exec.Cmd
	recordFile string
	framerate  int
	videoPath  string
}

func NewPicamera2Backend(cfg config.GroupBackendPicamera2) *Picamera2Backend {
	buffer := NewFrameBuffer()
	period := time.Duration(cfg.WatchdogSeconds) * time.Second
	if period <= 0 {
		period = 10 * time.Second
	}
	return &Picamera2Backend{
		cfg:      cfg,
		buffer:   buffer,
		watchdog: newWatchdog("picamera2", buffer, period),
	}
}

func (b *Picamera2Backend) Name() string { return "picamera2" }

func (b *Picamera2Backend) stillBinary() string {
	if b.cfg.StillBinary != "" {
		return b.cfg.StillBinary
	}
	return "rpicam-still"
}

func (b *Picamera2Backend) videoBinary() string {
	if b.cfg.VideoBinary != "" {
		return b.cfg.VideoBinary
	}
	return "rpicam-vid"
}

func (b *Picamera2Backend) commonArgs() []string {
	return []string{"--camera", strconv.Itoa(b.cfg.CameraNum), "--nopreview"}
}

func (b *Picamera2Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if !b.DeviceAvailable() {
		return fmt.Errorf("%w: %s not usable", ErrBackendUnavailable, b.stillBinary())
	}

	b.buffer.Reset()
	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	go b.previewWorker()

	b.watchdog.start()
	b.running = true

	log.Printf("picamera2: backend started on camera %d", b.cfg.CameraNum)
	return nil
}

func (b *Picamera2Backend) Stop() {
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
	log.Printf("picamera2: backend stopped")
}

func (b *Picamera2Backend) previewWorker() {
	defer close(b.done)

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if b.isRecording() {
			// rpicam-vid owns the camera; resume polling afterwards
			time.Sleep(200 * time.Millisecond)
			continue
		}

		frame, err := b.capturePreview()
		if err != nil {
			log.Printf("picamera2: preview capture failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		b.buffer.Publish(frame)
	}
}

func (b *Picamera2Backend) capturePreview() ([]byte, error) {
	b.camMu.Lock()
	defer b.camMu.Unlock()

	args := append(b.commonArgs(), "--immediate", "--encoding", "jpg", "--output", "-")
	if b.cfg.CaptureWidth > 0 && b.cfg.CaptureHeight > 0 {
		args = append(args,
			"--width", strconv.Itoa(b.cfg.CaptureWidth),
			"--height", strconv.Itoa(b.cfg.CaptureHeight),
		)
	}
	cmd := exec.Command(b.stillBinary(), args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s preview failed: %w", b.stillBinary(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s preview returned no data", b.stillBinary())
	}
	return out, nil
}

func (b *Picamera2Backend) WaitForStillFile(timeout time.Duration) (string, error) {
	if !b.DeviceAlive() {
		return "", ErrBackendUnavailable
	}
	if b.isRecording() {
		return "", fmt.Errorf("%w: camera busy recording", ErrBackendUnavailable)
	}

	f, err := os.CreateTemp("", "photobooth_picam_*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create still file: %w", err)
	}
	f.Close()

	b.camMu.Lock()
	defer b.camMu.Unlock()

	args := append(b.commonArgs(), "--output", f.Name())
	done := make(chan error, 1)
	cmd := exec.Command(b.stillBinary(), args...)
	if err := cmd.Start(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to run %s: %w", b.stillBinary(), err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("%w: %s capture failed: %v", ErrBackendUnavailable, b.stillBinary(), err)
		}
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		os.Remove(f.Name())
		return "", ErrBackendTimeout
	}

	if fi, err := os.Stat(f.Name()); err != nil || fi.Size() == 0 {
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: %s produced no image", ErrBackendUnavailable, b.stillBinary())
	}

	return f.Name(), nil
}

func (b *Picamera2Backend) WaitForLoresImage(timeout time.Duration) ([]byte, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}
	return b.buffer.Wait(timeout)
}

func (b *Picamera2Backend) WaitForMulticamFiles(time.Duration) ([]string, error) {
	return nil, ErrNotSupported
}

// StartRecording hands the camera to rpicam-vid. No frames flow into the
// buffer while it runs, so the watchdog is halted until the recording ends.
func (b *Picamera2Backend) StartRecording(framerate int) error {
	if !b.DeviceAlive() {
		return ErrBackendUnavailable
	}

	b.mu.Lock()
	if b.recording {
		b.mu.Unlock()
		return fmt.Errorf("recording already in progress")
	}
	b.recording = true
	b.mu.Unlock()

	// wait out an in-flight preview poll; new polls skip while recording
	b.camMu.Lock()
	b.camMu.Unlock()

	out := filepath.Join(os.TempDir(), fmt.Sprintf("photobooth_picam_%d.h264", time.Now().UnixNano()))
	args := append(b.commonArgs(),
		"--timeout", "0",
		"--framerate", strconv.Itoa(framerate),
		"--output", out,
	)

	cmd := exec.Command(b.videoBinary(), args...)
	if err := cmd.Start(); err != nil {
		b.mu.Lock()
		b.recording = false
		b.mu.Unlock()
		return fmt.Errorf("failed to run %s: %w", b.videoBinary(), err)
	}

	b.watchdog.halt()

	b.mu.Lock()
	b.recordCmd = cmd
	b.recordFile = out
	b.framerate = framerate
	b.videoPath = ""
	b.mu.Unlock()
	return nil
}

func (b *Picamera2Backend) StopRecording() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.recording {
		return fmt.Errorf("no recording in progress")
	}

	// rpicam-vid finalizes the file on SIGINT
	_ = b.recordCmd.Process.Signal(os.Interrupt)
	_ = b.recordCmd.Wait()

	b.recording = false
	b.recordCmd = nil
	b.watchdog.start()
	return nil
}

// GetRecordedVideo remuxes the raw h264 stream into an MP4 container.
func (b *Picamera2Backend) GetRecordedVideo() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recording {
		return "", fmt.Errorf("recording still in progress")
	}
	if b.recordFile == "" {
		return "", fmt.Errorf("nothing recorded")
	}
	if b.videoPath != "" {
		return b.videoPath, nil
	}

	out := filepath.Join(os.TempDir(), fmt.Sprintf("photobooth_picam_%d.mp4", time.Now().UnixNano()))
	cmd := exec.Command("ffmpeg",
		"-y",
		"-framerate", strconv.Itoa(b.framerate),
		"-i", b.recordFile,
		"-c:v", "copy",
		out,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg remux failed: %w, output: %s", err, output)
	}

	if err := os.Remove(b.recordFile); err != nil {
		log.Printf("picamera2: failed to remove raw recording %s: %v", b.recordFile, err)
	}
	b.recordFile = ""
	b.videoPath = out

	return out, nil
}

func (b *Picamera2Backend) isRecording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recording
}

func (b *Picamera2Backend) DeviceAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.watchdog.markedFaulty()
}

// DeviceAvailable asks the CLI to list attached cameras.
func (b *Picamera2Backend) DeviceAvailable() bool {
	cmd := exec.Command(b.stillBinary(), "--list-cameras")
	return cmd.Run() == nil
}

func (b *Picamera2Backend) MarkedFaulty() bool { return b.watchdog.markedFaulty() }

func (b *Picamera2Backend) ConfigureOptimizedForIdle()      {}
func (b *Picamera2Backend) ConfigureOptimizedForHQPreview() {}
func (b *Picamera2Backend) ConfigureOptimizedForHQCapture() {}
func (b *Picamera2Backend) ConfigureOptimizedForVideo()     {}

func (b *Picamera2Backend) Stats() BackendStats {
	return BackendStats{BackendName: b.Name()}
}
