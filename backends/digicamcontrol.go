package backends

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/photobooth-app/photobooth/config"
)

// DigiCamControlBackend talks to the digiCamControl HTTP bridge (Windows
// DSLR tethering). Liveview frames are polled; stills go through the single
// command endpoint.
type DigiCamControlBackend struct {
	cfg    config.GroupBackendDigiCamControl
	client *http.Client

	buffer   *FrameBuffer
	watchdog *watchdog

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewDigiCamControlBackend(cfg config.GroupBackendDigiCamControl) *DigiCamControlBackend {
	buffer := NewFrameBuffer()
	period := time.Duration(cfg.WatchdogSeconds) * time.Second
	if period <= 0 {
		period = 10 * time.Second
	}
	return &DigiCamControlBackend{
		cfg:      cfg,
		client:   &http.Client{Timeout: 5 * time.Second},
		buffer:   buffer,
		watchdog: newWatchdog("digicamcontrol", buffer, period),
	}
}

func (b *DigiCamControlBackend) Name() string { return "digicamcontrol" }

func (b *DigiCamControlBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if !b.bridgeReachable() {
		return fmt.Errorf("%w: digicamcontrol bridge not reachable at %s", ErrBackendUnavailable, b.cfg.BaseURL)
	}

	// enable liveview before polling frames
	if err := b.command("LiveViewWnd_Show"); err != nil {
		log.Printf("digicamcontrol: failed to enable liveview: %v", err)
	}

	b.buffer.Reset()
	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	go b.liveviewWorker()

	b.watchdog.start()
	b.running = true

	log.Printf("digicamcontrol: backend started against %s", b.cfg.BaseURL)
	return nil
}

func (b *DigiCamControlBackend) Stop() {
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

	if err := b.command("LiveViewWnd_Hide"); err != nil {
		log.Printf("digicamcontrol: failed to disable liveview: %v", err)
	}
	log.Printf("digicamcontrol: backend stopped")
}

func (b *DigiCamControlBackend) liveviewWorker() {
	defer close(b.done)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frame, err := b.fetchLiveview()
			if err != nil {
				log.Printf("digicamcontrol: liveview fetch failed: %v", err)
				continue
			}
			b.buffer.Publish(frame)
		case <-b.stop:
			return
		}
	}
}

func (b *DigiCamControlBackend) fetchLiveview() ([]byte, error) {
	resp, err := b.client.Get(b.cfg.BaseURL + "/liveview.jpg")
	if err != nil {
		return nil, fmt.Errorf("liveview request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("liveview returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (b *DigiCamControlBackend) command(cmd string) error {
	u := fmt.Sprintf("%s/?CMD=%s", b.cfg.BaseURL, url.QueryEscape(cmd))
	resp, err := b.client.Get(u)
	if err != nil {
		return fmt.Errorf("bridge command %s failed: %w", cmd, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge command %s returned status %d", cmd, resp.StatusCode)
	}
	return nil
}

func (b *DigiCamControlBackend) bridgeReachable() bool {
	resp, err := b.client.Get(b.cfg.BaseURL + "/?CMD=Get_Version")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (b *DigiCamControlBackend) WaitForStillFile(timeout time.Duration) (string, error) {
	if !b.DeviceAlive() {
		return "", ErrBackendUnavailable
	}

	if err := b.command("CaptureNoAf"); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// the bridge exposes the newest transferred image; poll until it changes
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := b.client.Get(b.cfg.BaseURL + "/image/IMG_LAST.jpg")
		if err == nil && resp.StatusCode == http.StatusOK {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil && len(data) > 0 {
				f, err := os.CreateTemp("", "photobooth_dcc_*.jpg")
				if err != nil {
					return "", fmt.Errorf("failed to create still file: %w", err)
				}
				if _, err := f.Write(data); err != nil {
					f.Close()
					return "", fmt.Errorf("failed to write still file: %w", err)
				}
				f.Close()
				return f.Name(), nil
			}
		} else if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}

	return "", ErrBackendTimeout
}

func (b *DigiCamControlBackend) WaitForLoresImage(timeout time.Duration) ([]byte, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}
	return b.buffer.Wait(timeout)
}

func (b *DigiCamControlBackend) WaitForMulticamFiles(time.Duration) ([]string, error) {
	return nil, ErrNotSupported
}

func (b *DigiCamControlBackend) StartRecording(int) error          { return ErrNotSupported }
func (b *DigiCamControlBackend) StopRecording() error              { return ErrNotSupported }
func (b *DigiCamControlBackend) GetRecordedVideo() (string, error) { return "", ErrNotSupported }

func (b *DigiCamControlBackend) DeviceAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.watchdog.markedFaulty()
}

func (b *DigiCamControlBackend) DeviceAvailable() bool { return b.bridgeReachable() }

func (b *DigiCamControlBackend) MarkedFaulty() bool { return b.watchdog.markedFaulty() }

func (b *DigiCamControlBackend) ConfigureOptimizedForIdle()      {}
func (b *DigiCamControlBackend) ConfigureOptimizedForHQPreview() {}
func (b *DigiCamControlBackend) ConfigureOptimizedForHQCapture() {}
func (b *DigiCamControlBackend) ConfigureOptimizedForVideo()     {}

func (b *DigiCamControlBackend) Stats() BackendStats {
	return BackendStats{BackendName: b.Name()}
}
