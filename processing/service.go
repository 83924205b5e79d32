// Package processing drives one capture job at a time through its state
// machine: countdown, capture, optional approval, composition and
// presentation. The machine runs on a single goroutine; user triggers are
// translated into events fed to it.
package processing

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/photobooth-app/photobooth/collection"
	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/sse"
)

// ErrMachineOccupied rejects a trigger while another job runs.
var ErrMachineOccupied = errors.New("a job is already in progress")

// Camera is the slice of the acquisition supervisor the machine needs.
type Camera interface {
	WaitForStillFile() (string, error)
	WaitForMulticamFiles() ([]string, error)
	StartRecording(framerate int) error
	StopRecording() error
	GetRecordedVideo() (string, error)
	SignalConfigureOptimizedForHQPreview()
	SignalConfigureOptimizedForHQCapture()
	SignalConfigureOptimizedForVideo()
	SignalConfigureOptimizedForIdle()
}

type Service struct {
	cfg    *config.AppConfig
	paths  config.Paths
	camera Camera
	coll   *collection.Service

	counters repository.UsageCounterRepository
	bus      *sse.Bus

	retainIntermediates bool

	// mu guards the job slot and the published snapshot. The job struct
	// itself is touched only by the machine goroutine; readers get the
	// snapshot updated on every emitted state.
	mu      sync.Mutex
	current *job
	info    *JobInfo
	ext     chan event
	done    chan struct{}
}

func NewService(cfg *config.AppConfig, paths config.Paths, camera Camera, coll *collection.Service, counters repository.UsageCounterRepository, bus *sse.Bus) *Service {
	return &Service{
		cfg:                 cfg,
		paths:               paths,
		camera:              camera,
		coll:                coll,
		counters:            counters,
		bus:                 bus,
		retainIntermediates: cfg.Collection.RetainCollageImages,
	}
}

// TriggerAction starts the indexed configuration set of the given kind.
// Triggering video while a recording runs stops the recording instead of
// failing.
func (s *Service) TriggerAction(kind ActionKind, index int) error {
	s.mu.Lock()

	if s.current != nil {
		if kind == ActionVideo && s.info != nil && s.info.Kind == ActionVideo && s.info.State == string(stateRecord) {
			ext := s.ext
			s.mu.Unlock()
			sendEvent(ext, evStopRecording)
			return nil
		}
		s.mu.Unlock()
		return ErrMachineOccupied
	}

	j, err := s.buildJob(kind, index)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.current = j
	info := s.jobInfo(j)
	s.info = &info
	s.ext = make(chan event, 4)
	s.done = make(chan struct{})
	ext, done := s.ext, s.done
	s.mu.Unlock()

	if _, err := s.counters.Increment(string(kind)); err != nil {
		log.Printf("processing: usage counter increment failed: %v", err)
	}

	log.Printf("processing: job %s triggered (%s '%s')", j.id, j.kind, j.name)
	go s.runJob(j, ext, done)
	return nil
}

// buildJob snapshots the selected configuration set into a job.
func (s *Service) buildJob(kind ActionKind, index int) (*job, error) {
	j := &job{
		id:           uuid.New(),
		kind:         kind,
		state:        stateStart,
		cameraOffset: s.cfg.Backends.CountdownCameraCaptureOffset,
	}

	outOfRange := func(n int) error {
		return fmt.Errorf("no %s action at index %d (%d configured)", kind, index, n)
	}

	switch kind {
	case ActionImage:
		sets := s.cfg.Actions.Image
		if index < 0 || index >= len(sets) {
			return nil, outOfRange(len(sets))
		}
		set := sets[index]
		j.name = set.Name
		j.countdownFirst = set.JobControl.CountdownCapture
		j.picDef = set.Processing
		j.capturesTotal = 1
	case ActionCollage:
		sets := s.cfg.Actions.Collage
		if index < 0 || index >= len(sets) {
			return nil, outOfRange(len(sets))
		}
		set := sets[index]
		proc := set.Processing
		j.name = set.Name
		j.applyMultiControl(set.JobControl)
		j.collage = &proc
		j.capturesTotal = len(collageCaptureSlots(&proc))
	case ActionAnimation:
		sets := s.cfg.Actions.Animation
		if index < 0 || index >= len(sets) {
			return nil, outOfRange(len(sets))
		}
		set := sets[index]
		proc := set.Processing
		j.name = set.Name
		j.applyMultiControl(set.JobControl)
		j.animation = &proc
		j.capturesTotal = len(animationCaptureSlots(&proc))
	case ActionVideo:
		sets := s.cfg.Actions.Video
		if index < 0 || index >= len(sets) {
			return nil, outOfRange(len(sets))
		}
		set := sets[index]
		proc := set.Processing
		j.name = set.Name
		j.countdownFirst = set.JobControl.CountdownCapture
		j.video = &proc
	case ActionMulticamera:
		sets := s.cfg.Actions.Multicamera
		if index < 0 || index >= len(sets) {
			return nil, outOfRange(len(sets))
		}
		set := sets[index]
		proc := set.Processing
		j.name = set.Name
		j.applyMultiControl(set.JobControl)
		j.askApproval = false // one synchronized shot, nothing to approve per capture
		j.multicam = &proc
		j.capturesTotal = 1
	default:
		return nil, fmt.Errorf("unknown action kind '%s'", kind)
	}

	if j.capturesTotal == 0 && kind != ActionVideo {
		return nil, fmt.Errorf("%s '%s' has no capture slots", kind, j.name)
	}
	return j, nil
}

func (j *job) applyMultiControl(jc config.MultiImageJobControl) {
	j.countdownFirst = jc.CountdownCapture
	j.countdownFollowing = jc.CountdownCaptureSecondFollowing
	j.askApproval = jc.AskApprovalEachCapture
	j.autoconfirmTimeout = time.Duration(jc.ApproveAutoconfirmTimeout * float64(time.Second))
	j.hideIndividual = jc.GalleryHideIndividualImages
}

// ContinueProcess confirms the capture waiting for approval.
func (s *Service) ContinueProcess() error { return s.sendToCurrent(evConfirm) }

// RejectCapture discards the capture waiting for approval and retakes it.
func (s *Service) RejectCapture() error { return s.sendToCurrent(evReject) }

// AbortProcess cancels the running job and discards its captures.
func (s *Service) AbortProcess() error { return s.sendToCurrent(evAbort) }

// StopRecording ends a running video recording early.
func (s *Service) StopRecording() error { return s.sendToCurrent(evStopRecording) }

func (s *Service) sendToCurrent(ev event) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return fmt.Errorf("no job in progress")
	}
	ext := s.ext
	s.mu.Unlock()

	sendEvent(ext, ev)
	return nil
}

func sendEvent(ext chan event, ev event) {
	select {
	case ext <- ev:
	default:
		log.Printf("processing: event %s dropped, machine not accepting input", ev)
	}
}

// WaitUntilJobFinished blocks until the running job completes. Returns
// immediately when the machine is idle.
func (s *Service) WaitUntilJobFinished(timeout time.Duration) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job still running after %s", timeout)
	}
}

// Busy reports whether a job currently owns the machine.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// CurrentJobInfo returns the last published state snapshot for replay to
// late subscribers, nil when idle.
func (s *Service) CurrentJobInfo() *JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	return &info
}

func (s *Service) release() {
	s.mu.Lock()
	s.current = nil
	s.info = nil
	s.ext = nil
	s.mu.Unlock()
}

func (s *Service) jobInfo(j *job) JobInfo {
	info := JobInfo{
		ID:            j.id,
		Kind:          j.kind,
		Name:          j.name,
		State:         string(j.state),
		CountdownS:    j.countdownS,
		CapturesTotal: j.capturesTotal,
		CapturesTaken: j.capturesTaken,
		AskApproval:   j.askApproval,
	}
	if j.state == stateApproval {
		info.AutoconfirmAfterS = j.autoconfirmTimeout.Seconds()
	}
	if len(j.captured) > 0 {
		pub := s.coll.Public(j.captured[len(j.captured)-1])
		info.LastCapture = &pub
	}
	if j.result != nil {
		pub := s.coll.Public(j.result)
		info.ResultItem = &pub
	}
	return info
}

// emitState publishes the snapshot for API readers and dispatches it. Only
// the machine goroutine calls this, so reading the job needs no lock.
func (s *Service) emitState(j *job) {
	info := s.jobInfo(j)
	s.mu.Lock()
	s.info = &info
	s.mu.Unlock()
	s.bus.Dispatch(sse.EventProcessStateinfo{Job: info})
}
