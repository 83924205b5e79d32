package acquisition

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/photobooth-app/photobooth/backends"
	"github.com/photobooth-app/photobooth/config"
)

const (
	healthPollInterval = time.Second
	restartBackoffMin  = time.Second
	restartBackoffMax  = 8 * time.Second

	stillTimeout    = 10 * time.Second
	multicamTimeout = 20 * time.Second
	loresTimeout    = time.Second
)

// Supervisor manages up to two camera backends: the main backend for
// high-quality stills and an optional live backend for streams and video.
// Backend faults are recovered locally with backoff restarts; callers only
// ever see ErrBackendUnavailable when a still is strictly required while a
// backend is down.
type Supervisor struct {
	backendsCfg config.GroupBackends
	commonCfg   config.GroupCommon
	uiCfg       config.GroupUISettings

	mainBackend backends.Backend
	liveBackend backends.Backend // nil when the main backend covers live duty

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// serialized by the health worker
	backoff map[string]time.Duration
}

func NewSupervisor(backendsCfg config.GroupBackends, commonCfg config.GroupCommon, uiCfg config.GroupUISettings) (*Supervisor, error) {
	main, err := backends.New(backendsCfg.MainBackend, backendsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create main backend: %w", err)
	}

	var live backends.Backend
	if backendsCfg.LiveBackend != "" && backendsCfg.LiveBackend != backendsCfg.MainBackend {
		live, err = backends.New(backendsCfg.LiveBackend, backendsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create live backend: %w", err)
		}
	}

	return &Supervisor{
		backendsCfg: backendsCfg,
		commonCfg:   commonCfg,
		uiCfg:       uiCfg,
		mainBackend: main,
		liveBackend: live,
		backoff:     make(map[string]time.Duration),
	}, nil
}

// NewSupervisorWithBackends wires pre-built backends; used by tests.
func NewSupervisorWithBackends(main, live backends.Backend, backendsCfg config.GroupBackends, commonCfg config.GroupCommon, uiCfg config.GroupUISettings) *Supervisor {
	return &Supervisor{
		backendsCfg: backendsCfg,
		commonCfg:   commonCfg,
		uiCfg:       uiCfg,
		mainBackend: main,
		liveBackend: live,
		backoff:     make(map[string]time.Duration),
	}
}

func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	for _, b := range s.allBackends() {
		if err := b.Start(); err != nil {
			// non-fatal: the health worker keeps retrying
			log.Printf("acquisition: backend %s failed to start: %v", b.Name(), err)
		}
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.healthWorker()

	s.running = true
	log.Printf("acquisition: supervisor started, main=%s live=%s", s.mainBackend.Name(), s.liveBackendName())
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done

	for _, b := range s.allBackends() {
		b.Stop()
	}

	s.running = false
	log.Printf("acquisition: supervisor stopped")
}

func (s *Supervisor) allBackends() []backends.Backend {
	all := []backends.Backend{s.mainBackend}
	if s.liveBackend != nil {
		all = append(all, s.liveBackend)
	}
	return all
}

func (s *Supervisor) liveBackendName() string {
	if s.liveBackend != nil {
		return s.liveBackend.Name()
	}
	return s.mainBackend.Name()
}

// videoBackend selects the backend serving streams and recordings.
func (s *Supervisor) videoBackend() backends.Backend {
	if s.liveBackend != nil {
		return s.liveBackend
	}
	return s.mainBackend
}

// healthWorker polls device health every second and restarts faulty
// backends with doubling backoff (1 s up to 8 s).
func (s *Supervisor) healthWorker() {
	defer close(s.done)

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, b := range s.allBackends() {
				if b.DeviceAlive() && !b.MarkedFaulty() {
					delete(s.backoffMapLocked(), b.Name())
					continue
				}
				s.restartBackend(b)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) backoffMapLocked() map[string]time.Duration {
	// only touched from the health worker goroutine
	return s.backoff
}

func (s *Supervisor) restartBackend(b backends.Backend) {
	wait, ok := s.backoff[b.Name()]
	if !ok {
		wait = restartBackoffMin
	}

	log.Printf("acquisition: backend %s faulty, restarting after %s", b.Name(), wait)
	b.Stop()

	select {
	case <-time.After(wait):
	case <-s.stop:
		return
	}

	if err := b.Start(); err != nil {
		log.Printf("acquisition: restart of backend %s failed: %v", b.Name(), err)
		next := wait * 2
		if next > restartBackoffMax {
			next = restartBackoffMax
		}
		s.backoff[b.Name()] = next
		return
	}

	log.Printf("acquisition: backend %s restarted", b.Name())
	delete(s.backoff, b.Name())
}

// WaitForStillFile blocks until the main backend delivers a high-quality
// still, retrying across backend restarts up to the configured count.
func (s *Supervisor) WaitForStillFile() (string, error) {
	attempts := s.backendsCfg.RetryCapture
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		path, err := s.mainBackend.WaitForStillFile(stillTimeout)
		if err == nil {
			return path, nil
		}
		lastErr = err
		log.Printf("acquisition: still capture attempt %d/%d failed: %v", attempt, attempts, err)

		if errors.Is(err, backends.ErrShutdown) {
			return "", err
		}
		// give the health worker a chance to restart the backend
		time.Sleep(healthPollInterval)
	}

	return "", fmt.Errorf("%w: still capture failed after %d attempts: %v", backends.ErrBackendUnavailable, attempts, lastErr)
}

// WaitForLoresImage delivers one preview frame from the video backend.
func (s *Supervisor) WaitForLoresImage() ([]byte, error) {
	return s.videoBackend().WaitForLoresImage(loresTimeout)
}

// WaitForMulticamFiles requires a main backend with multicam support.
func (s *Supervisor) WaitForMulticamFiles() ([]string, error) {
	return s.mainBackend.WaitForMulticamFiles(multicamTimeout)
}

func (s *Supervisor) StartRecording(framerate int) error {
	return s.videoBackend().StartRecording(framerate)
}

func (s *Supervisor) StopRecording() error {
	return s.videoBackend().StopRecording()
}

func (s *Supervisor) GetRecordedVideo() (string, error) {
	return s.videoBackend().GetRecordedVideo()
}

// Mode notifications fan out to both backends so they may reconfigure.

func (s *Supervisor) SignalConfigureOptimizedForIdle() {
	for _, b := range s.allBackends() {
		b.ConfigureOptimizedForIdle()
	}
}

func (s *Supervisor) SignalConfigureOptimizedForHQPreview() {
	for _, b := range s.allBackends() {
		b.ConfigureOptimizedForHQPreview()
	}
}

func (s *Supervisor) SignalConfigureOptimizedForHQCapture() {
	for _, b := range s.allBackends() {
		b.ConfigureOptimizedForHQCapture()
	}
}

func (s *Supervisor) SignalConfigureOptimizedForVideo() {
	for _, b := range s.allBackends() {
		b.ConfigureOptimizedForVideo()
	}
}

// Stats gathers observables of the active backends.
func (s *Supervisor) Stats() map[string]interface{} {
	out := map[string]interface{}{"primary": s.mainBackend.Stats()}
	if s.liveBackend != nil {
		out["secondary"] = s.liveBackend.Stats()
	}
	return out
}
