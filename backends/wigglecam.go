package backends

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/photobooth-app/photobooth/config"
)

// WigglecamBackend talks to a pool of remote camera nodes that capture
// time-synchronized stills for wigglegrams. The first node doubles as the
// preview source.
type WigglecamBackend struct {
	cfg    config.GroupBackendWigglecam
	client *http.Client

	buffer   *FrameBuffer
	watchdog *watchdog

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewWigglecamBackend(cfg config.GroupBackendWigglecam) *WigglecamBackend {
	buffer := NewFrameBuffer()
	period := time.Duration(cfg.WatchdogSeconds) * time.Second
	if period <= 0 {
		period = 10 * time.Second
	}
	return &WigglecamBackend{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		buffer:   buffer,
		watchdog: newWatchdog("wigglecam", buffer, period),
	}
}

func (b *WigglecamBackend) Name() string { return "wigglecam" }

func (b *WigglecamBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if len(b.cfg.NodeBaseURLs) == 0 {
		return fmt.Errorf("%w: no wigglecam nodes configured", ErrBackendUnavailable)
	}

	b.buffer.Reset()
	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	go b.previewWorker()

	b.watchdog.start()
	b.running = true

	log.Printf("wigglecam: backend started with %d nodes", len(b.cfg.NodeBaseURLs))
	return nil
}

func (b *WigglecamBackend) Stop() {
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
	log.Printf("wigglecam: backend stopped")
}

func (b *WigglecamBackend) previewWorker() {
	defer close(b.done)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frame, err := b.fetch(b.cfg.NodeBaseURLs[0] + "/api/preview")
			if err != nil {
				log.Printf("wigglecam: preview fetch failed: %v", err)
				continue
			}
			b.buffer.Publish(frame)
		case <-b.stop:
			return
		}
	}
}

func (b *WigglecamBackend) fetch(url string) ([]byte, error) {
	resp, err := b.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("node request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// WaitForStillFile captures on the first node only.
func (b *WigglecamBackend) WaitForStillFile(timeout time.Duration) (string, error) {
	files, err := b.captureNodes(timeout, b.cfg.NodeBaseURLs[:1])
	if err != nil {
		return "", err
	}
	return files[0], nil
}

// WaitForMulticamFiles triggers all nodes simultaneously and downloads one
// still per node, in configured node order.
func (b *WigglecamBackend) WaitForMulticamFiles(timeout time.Duration) ([]string, error) {
	return b.captureNodes(timeout, b.cfg.NodeBaseURLs)
}

func (b *WigglecamBackend) captureNodes(timeout time.Duration, nodes []string) ([]string, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}

	// trigger all nodes first so captures happen as close together as possible
	var wg sync.WaitGroup
	triggerErrs := make([]error, len(nodes))
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			if _, err := b.fetch(node + "/api/trigger"); err != nil {
				triggerErrs[i] = err
			}
		}(i, node)
	}
	wg.Wait()
	for i, err := range triggerErrs {
		if err != nil {
			return nil, fmt.Errorf("%w: node %d trigger failed: %v", ErrBackendUnavailable, i, err)
		}
	}

	deadline := time.Now().Add(timeout)
	paths := make([]string, 0, len(nodes))
	for i, node := range nodes {
		var data []byte
		var err error
		for time.Now().Before(deadline) {
			data, err = b.fetch(node + "/api/still")
			if err == nil && len(data) > 0 {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if err != nil || len(data) == 0 {
			for _, p := range paths {
				os.Remove(p)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: node %d still download failed: %v", ErrBackendUnavailable, i, err)
			}
			return nil, ErrBackendTimeout
		}

		f, err := os.CreateTemp("", "photobooth_wiggle_*.jpg")
		if err != nil {
			return nil, fmt.Errorf("failed to create still file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write still file: %w", err)
		}
		f.Close()
		paths = append(paths, f.Name())
	}

	return paths, nil
}

func (b *WigglecamBackend) WaitForLoresImage(timeout time.Duration) ([]byte, error) {
	if !b.DeviceAlive() {
		return nil, ErrBackendUnavailable
	}
	return b.buffer.Wait(timeout)
}

func (b *WigglecamBackend) StartRecording(int) error          { return ErrNotSupported }
func (b *WigglecamBackend) StopRecording() error              { return ErrNotSupported }
func (b *WigglecamBackend) GetRecordedVideo() (string, error) { return "", ErrNotSupported }

func (b *WigglecamBackend) DeviceAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && !b.watchdog.markedFaulty()
}

func (b *WigglecamBackend) DeviceAvailable() bool {
	if len(b.cfg.NodeBaseURLs) == 0 {
		return false
	}
	_, err := b.fetch(b.cfg.NodeBaseURLs[0] + "/api/health")
	return err == nil
}

func (b *WigglecamBackend) MarkedFaulty() bool { return b.watchdog.markedFaulty() }

func (b *WigglecamBackend) ConfigureOptimizedForIdle()      {}
func (b *WigglecamBackend) ConfigureOptimizedForHQPreview() {}
func (b *WigglecamBackend) ConfigureOptimizedForHQCapture() {}
func (b *WigglecamBackend) ConfigureOptimizedForVideo()     {}

func (b *WigglecamBackend) Stats() BackendStats {
	return BackendStats{BackendName: b.Name()}
}
