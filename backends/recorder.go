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
)

// frameRecorder captures the lores frame stream of a backend into an MJPEG
// spool file and containerizes it to MP4 with ffmpeg on stop. Drivers
// without native video support use it to satisfy the recording contract.
type frameRecorder struct {
	buffer *FrameBuffer

	mu        sync.Mutex
	recording bool
	framerate int
	spoolPath string
	videoPath string
	stop      chan struct{}
	done      chan struct{}
}

func newFrameRecorder(buffer *FrameBuffer) *frameRecorder {
	return &frameRecorder{buffer: buffer}
}

func (r *frameRecorder) start(framerate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return fmt.Errorf("recording already in progress")
	}

	spool, err := os.CreateTemp("", "photobooth_rec_*.mjpeg")
	if err != nil {
		return fmt.Errorf("failed to create recording spool: %w", err)
	}

	r.recording = true
	r.framerate = framerate
	r.spoolPath = spool.Name()
	r.videoPath = ""
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		defer spool.Close()

		interval := time.Second / time.Duration(framerate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				frame := r.buffer.Latest()
				if frame == nil {
					continue
				}
				if _, err := spool.Write(frame); err != nil {
					log.Printf("recorder: failed to spool frame: %v", err)
					return
				}
			case <-r.stop:
				return
			}
		}
	}()

	return nil
}

func (r *frameRecorder) stopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return fmt.Errorf("no recording in progress")
	}
	close(r.stop)
	<-r.done
	r.recording = false
	return nil
}

// video containerizes the spooled MJPEG to MP4. ffmpeg gets a fixed argv
// list; no user data reaches a shell.
func (r *frameRecorder) video() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return "", fmt.Errorf("recording still in progress")
	}
	if r.spoolPath == "" {
		return "", fmt.Errorf("nothing recorded")
	}
	if r.videoPath != "" {
		return r.videoPath, nil
	}

	out := filepath.Join(os.TempDir(), fmt.Sprintf("photobooth_rec_%d.mp4", time.Now().UnixNano()))
	cmd := exec.Command("ffmpeg",
		"-y",
		"-framerate", strconv.Itoa(r.framerate),
		"-f", "mjpeg",
		"-i", r.spoolPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		out,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg containerize failed: %w, output: %s", err, output)
	}

	if err := os.Remove(r.spoolPath); err != nil {
		log.Printf("recorder: failed to remove spool %s: %v", r.spoolPath, err)
	}
	r.spoolPath = ""
	r.videoPath = out

	return out, nil
}

func (r *frameRecorder) isRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
