// Package information aggregates observables for the frontends: static facts
// once per connect, live backend stats and usage counters on an interval.
package information

import (
	"log"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/sse"
)

const Version = "1.0.0"

// StatsSource yields the current backend observables (acquisition supervisor).
type StatsSource func() map[string]interface{}

// LimitsSource yields the share-limit counters (share dispatcher).
type LimitsSource func() map[string]int64

type Service struct {
	paths    config.Paths
	interval time.Duration

	counters repository.UsageCounterRepository
	stats    StatsSource
	limits   LimitsSource
	bus      *sse.Bus

	stop chan struct{}
	done chan struct{}
}

func NewService(paths config.Paths, commonCfg config.GroupCommon, counters repository.UsageCounterRepository, stats StatsSource, limits LimitsSource, bus *sse.Bus) *Service {
	interval := time.Duration(commonCfg.InformationIntervalS) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Service{
		paths:    paths,
		interval: interval,
		counters: counters,
		stats:    stats,
		limits:   limits,
		bus:      bus,
	}
}

func (s *Service) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.worker()
	log.Printf("information: interval records every %s", s.interval)
}

func (s *Service) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

func (s *Service) worker() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.bus.Dispatch(s.IntervalRecord())
		case <-s.stop:
			return
		}
	}
}

// IntervalRecord gathers the periodically refreshed observables.
func (s *Service) IntervalRecord() sse.EventIntervalInformationRecord {
	statsCounter, err := s.counters.All()
	if err != nil {
		log.Printf("information: failed to read usage counters: %v", err)
		statsCounter = map[string]int64{}
	}

	return sse.EventIntervalInformationRecord{
		Backends:      s.stats(),
		StatsCounter:  statsCounter,
		LimitsCounter: s.limits(),
		DiskFree:      diskFree(s.paths.WorkingDir),
	}
}

// OnetimeRecord describes the installation; sent to each subscriber once on
// connect.
func (s *Service) OnetimeRecord() sse.EventOnetimeInformationRecord {
	hostname, _ := os.Hostname()
	return sse.EventOnetimeInformationRecord{
		Version:       Version,
		PlatformOS:    runtime.GOOS,
		PlatformArch:  runtime.GOARCH,
		Hostname:      hostname,
		CPUCount:      runtime.NumCPU(),
		DataDirectory: s.paths.WorkingDir,
	}
}

// ResetCounters clears the usage statistics for one action, or all of them
// when action is empty.
func (s *Service) ResetCounters(action string) error {
	if action == "" {
		return s.counters.ResetAll()
	}
	return s.counters.Reset(action)
}

// Counters exposes the usage statistics for the API.
func (s *Service) Counters() (map[string]int64, error) {
	return s.counters.All()
}

func diskFree(path string) uint64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0
	}
	return stat.Bavail * uint64(stat.Bsize)
}
