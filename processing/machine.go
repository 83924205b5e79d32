package processing

import (
	"fmt"
	"image"
	"log"
	"time"

	"github.com/disintegration/imaging"

	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/models"
	"github.com/photobooth-app/photobooth/pipeline"
	"github.com/photobooth-app/photobooth/sse"
)

type state string

const (
	stateStart        state = "start"
	stateCounting     state = "counting"
	stateCapture      state = "capture"
	stateMulticapture state = "multicapture"
	stateRecord       state = "record"
	stateApproval     state = "approval"
	stateCompleted    state = "completed"
	statePresent      state = "present"
	stateFinished     state = "finished"
)

type event string

const (
	evStarted       event = "started"
	evCountdownDone event = "countdown_done"
	evCaptureDone   event = "capture_done"
	evConfirm       event = "confirm"
	evReject        event = "reject"
	evAbort         event = "abort"
	evStopRecording event = "stop_recording"
	evProcessed     event = "processed"
	evPresented     event = "presented"
)

// capture attempts within one capture state, on top of backend-level retries
const maxCaptureAttempts = 3

type transition struct {
	from  state
	on    event
	guard func(*job) bool
	to    state
}

func always(*job) bool           { return true }
func hasCountdown(j *job) bool   { return j.countdownDuration() > 0 }
func isVideo(j *job) bool        { return j.kind == ActionVideo }
func isSingleShot(j *job) bool   { return j.kind == ActionImage || j.kind == ActionMulticamera }
func isMultiShot(j *job) bool    { return j.kind == ActionCollage || j.kind == ActionAnimation }
func wantsApproval(j *job) bool  { return j.askApproval }
func capturesLeft(j *job) bool   { return j.remaining() > 0 }
func noCapturesLeft(j *job) bool { return j.remaining() <= 0 }

func capturesLeftCountdown(j *job) bool { return j.remaining() > 0 && j.countdownDuration() > 0 }

// transitions is evaluated top-down; the first row whose from/on/guard all
// match wins.
var transitions = []transition{
	{stateStart, evStarted, hasCountdown, stateCounting},
	{stateStart, evStarted, isVideo, stateRecord},
	{stateStart, evStarted, isSingleShot, stateCapture},
	{stateStart, evStarted, isMultiShot, stateMulticapture},

	{stateCounting, evCountdownDone, isVideo, stateRecord},
	{stateCounting, evCountdownDone, isSingleShot, stateCapture},
	{stateCounting, evCountdownDone, isMultiShot, stateMulticapture},

	{stateCapture, evCaptureDone, always, stateCompleted},

	{stateMulticapture, evCaptureDone, wantsApproval, stateApproval},
	{stateMulticapture, evCaptureDone, noCapturesLeft, stateCompleted},
	{stateMulticapture, evCaptureDone, capturesLeftCountdown, stateCounting},
	{stateMulticapture, evCaptureDone, capturesLeft, stateMulticapture},

	{stateApproval, evConfirm, noCapturesLeft, stateCompleted},
	{stateApproval, evConfirm, capturesLeftCountdown, stateCounting},
	{stateApproval, evConfirm, capturesLeft, stateMulticapture},
	{stateApproval, evReject, hasCountdown, stateCounting},
	{stateApproval, evReject, always, stateMulticapture},

	{stateRecord, evCaptureDone, always, stateCompleted},

	{stateCompleted, evProcessed, always, statePresent},
	{statePresent, evPresented, always, stateFinished},
}

func nextState(j *job, ev event) (state, bool) {
	if ev == evAbort {
		return stateFinished, true
	}
	for _, t := range transitions {
		if t.from == j.state && t.on == ev && t.guard(j) {
			return t.to, true
		}
	}
	return "", false
}

// runJob interprets the machine until the finished state. All state entry
// actions execute on this one goroutine; external triggers arrive through the
// job's event channel.
func (s *Service) runJob(j *job, ext chan event, done chan struct{}) {
	defer close(done)
	defer s.release()

	ev := evStarted
	for {
		next, ok := nextState(j, ev)
		if !ok {
			log.Printf("processing: no transition for (%s, %s), aborting job %s", j.state, ev, j.id)
			next = stateFinished
		}
		j.state = next

		if j.state == stateFinished {
			s.enterFinished(j, ev == evAbort)
			return
		}

		followUp, err := s.enter(j, ext)
		if err != nil {
			log.Printf("processing: job %s failed in state %s: %v", j.id, j.state, err)
			s.bus.Dispatch(sse.EventFrontendNotification{
				Caption: "Capture failed",
				Message: err.Error(),
				Color:   "negative",
			})
			followUp = evAbort
		}
		ev = followUp

		// an abort that arrived while an entry action ran (capture has no
		// event wait of its own) preempts the next transition
		if abortRequested(ext) {
			ev = evAbort
		}
	}
}

// abortRequested drains queued external events without blocking. An abort
// anywhere in the queue wins; anything else queued at this point is stale.
func abortRequested(ext chan event) bool {
	for {
		select {
		case ev := <-ext:
			if ev == evAbort {
				return true
			}
			log.Printf("processing: stale event %s dropped between states", ev)
		default:
			return false
		}
	}
}

func (s *Service) enter(j *job, ext chan event) (event, error) {
	switch j.state {
	case stateCounting:
		return s.enterCounting(j, ext)
	case stateCapture, stateMulticapture:
		return s.enterCapture(j, ext)
	case stateRecord:
		return s.enterRecord(j, ext)
	case stateApproval:
		return s.enterApproval(j, ext)
	case stateCompleted:
		return s.enterCompleted(j)
	case statePresent:
		s.emitState(j)
		return evPresented, nil
	default:
		return "", fmt.Errorf("state %s has no entry action", j.state)
	}
}

// enterCounting shows the countdown and fires the capture early by the
// camera offset so the shot lands when the display reaches zero.
func (s *Service) enterCounting(j *job, ext chan event) (event, error) {
	duration := j.countdownDuration()
	j.countdownS = duration
	s.emitState(j)

	// get the camera ready while the guests watch the countdown
	s.camera.SignalConfigureOptimizedForHQPreview()

	wait := duration - j.cameraOffset
	if wait < 0 {
		wait = 0
	}

	select {
	case <-time.After(time.Duration(wait * float64(time.Second))):
		j.countdownS = 0
		return evCountdownDone, nil
	case ev := <-ext:
		if ev == evAbort {
			return evAbort, nil
		}
		// other triggers are meaningless while counting
		j.countdownS = 0
		return evCountdownDone, nil
	}
}

func (s *Service) enterCapture(j *job, ext chan event) (event, error) {
	s.emitState(j)
	s.camera.SignalConfigureOptimizedForHQCapture()
	defer s.camera.SignalConfigureOptimizedForIdle()

	var err error
	for attempt := 1; attempt <= maxCaptureAttempts; attempt++ {
		if j.kind == ActionMulticamera {
			err = s.captureMulticam(j)
		} else {
			err = s.captureStill(j)
		}
		if err == nil {
			s.emitState(j)
			return evCaptureDone, nil
		}
		log.Printf("processing: capture attempt %d/%d failed: %v", attempt, maxCaptureAttempts, err)
	}
	return "", fmt.Errorf("capture failed after %d attempts: %w", maxCaptureAttempts, err)
}

func (s *Service) captureStill(j *job) error {
	file, err := s.camera.WaitForStillFile()
	if err != nil {
		return err
	}

	def, itemType, hide := j.captureDefinition()
	item, err := s.coll.CreateStillItem(file, itemType, def, hide)
	if err != nil {
		return err
	}

	j.captured = append(j.captured, item)
	j.capturesTaken++
	return nil
}

func (s *Service) captureMulticam(j *job) error {
	files, err := s.camera.WaitForMulticamFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		item, err := s.coll.CreateStillItem(file, models.MediaTypeImage, j.picDef, j.hideIndividual)
		if err != nil {
			return err
		}
		j.captured = append(j.captured, item)
	}
	j.capturesTaken++
	return nil
}

// captureDefinition resolves the processing snapshot for the next capture.
// Collage slots carry their own filter; the canvas-level capture background
// applies to every slot.
func (j *job) captureDefinition() (config.SinglePictureDefinition, models.MediaType, bool) {
	switch j.kind {
	case ActionCollage:
		def := config.SinglePictureDefinition{
			FillBackgroundEnable: j.collage.CaptureFillBackground,
			FillBackgroundColor:  j.collage.CaptureFillBackgroundCol,
		}
		slots := collageCaptureSlots(j.collage)
		if j.capturesTaken < len(slots) {
			def.Filter = j.collage.MergeDefinition[slots[j.capturesTaken]].Filter
		}
		return def, models.MediaTypeCollageImage, j.hideIndividual
	case ActionAnimation:
		def := config.SinglePictureDefinition{}
		slots := animationCaptureSlots(j.animation)
		if j.capturesTaken < len(slots) {
			def.Filter = j.animation.MergeDefinition[slots[j.capturesTaken]].Filter
		}
		return def, models.MediaTypeAnimationImage, j.hideIndividual
	default:
		return j.picDef, models.MediaTypeImage, false
	}
}

func (s *Service) enterRecord(j *job, ext chan event) (event, error) {
	s.emitState(j)
	s.camera.SignalConfigureOptimizedForVideo()
	defer s.camera.SignalConfigureOptimizedForIdle()

	if err := s.camera.StartRecording(j.video.VideoFramerate); err != nil {
		return "", fmt.Errorf("recording start failed: %w", err)
	}

	limit := time.Duration(j.video.VideoDurationS) * time.Second
	timer := time.NewTimer(limit)
	defer timer.Stop()

wait:
	for {
		select {
		case <-timer.C:
			break wait
		case ev := <-ext:
			switch ev {
			case evStopRecording:
				break wait
			case evAbort:
				s.camera.StopRecording()
				return evAbort, nil
			}
		}
	}

	if err := s.camera.StopRecording(); err != nil {
		return "", fmt.Errorf("recording stop failed: %w", err)
	}
	file, err := s.camera.GetRecordedVideo()
	if err != nil {
		return "", fmt.Errorf("recorded clip unavailable: %w", err)
	}
	j.recordedFile = file
	return evCaptureDone, nil
}

// enterApproval waits for the user's verdict; silence confirms after the
// configured timeout.
func (s *Service) enterApproval(j *job, ext chan event) (event, error) {
	j.countdownS = 0
	s.emitState(j)

	timeout := j.autoconfirmTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			log.Printf("processing: approval timed out, auto-confirming capture")
			return evConfirm, nil
		case ev := <-ext:
			switch ev {
			case evConfirm:
				return evConfirm, nil
			case evReject:
				s.rejectLastCapture(j)
				return evReject, nil
			case evAbort:
				return evAbort, nil
			}
		}
	}
}

func (s *Service) rejectLastCapture(j *job) {
	if len(j.captured) == 0 {
		return
	}
	last := j.captured[len(j.captured)-1]
	j.captured = j.captured[:len(j.captured)-1]
	j.capturesTaken--

	if err := s.coll.Delete(last.ID, false); err != nil {
		log.Printf("processing: failed to delete rejected capture %s: %v", last.ID, err)
	}
	log.Printf("processing: capture %s rejected, retaking", last.ID)
}

func (s *Service) enterCompleted(j *job) (event, error) {
	s.emitState(j)

	var err error
	switch j.kind {
	case ActionImage:
		if len(j.captured) > 0 {
			j.result = j.captured[0]
		}
	case ActionCollage:
		err = s.assembleCollage(j)
	case ActionAnimation:
		err = s.assembleAnimation(j)
	case ActionVideo:
		err = s.finalizeVideo(j)
	case ActionMulticamera:
		err = s.assembleWigglegram(j)
	}
	if err != nil {
		return "", err
	}
	if j.result == nil {
		return "", fmt.Errorf("job produced no result item")
	}

	s.cleanupIntermediates(j)
	return evProcessed, nil
}

func (s *Service) assembleCollage(j *job) error {
	images := make([]image.Image, 0, len(j.collage.MergeDefinition))
	captureIdx := 0
	for _, def := range j.collage.MergeDefinition {
		var img image.Image
		var err error
		if def.PredefinedImage != "" {
			img, err = s.openUserImage(def.PredefinedImage)
		} else {
			if captureIdx >= len(j.captured) {
				return fmt.Errorf("collage slot without capture")
			}
			img, err = s.openCaptured(j.captured[captureIdx])
			captureIdx++
		}
		if err != nil {
			return err
		}
		images = append(images, img)
	}

	// slot filters already ran in phase 1 on the captures
	proc := *j.collage
	for i := range proc.MergeDefinition {
		if proc.MergeDefinition[i].PredefinedImage == "" {
			proc.MergeDefinition[i].Filter = pipeline.FilterOriginal
		}
	}

	canvas, err := pipeline.MergeCollage(proc, images, s.paths.UserFile)
	if err != nil {
		return err
	}

	item, err := s.coll.CreateCompositeItem(canvas, models.MediaTypeCollage, j.collage, false)
	if err != nil {
		return err
	}
	j.result = item
	return nil
}

func (s *Service) assembleAnimation(j *job) error {
	frames := make([]image.Image, 0, len(j.animation.MergeDefinition))
	durations := make([]int, 0, len(j.animation.MergeDefinition))
	captureIdx := 0
	for _, def := range j.animation.MergeDefinition {
		var img image.Image
		var err error
		if def.PredefinedImage != "" {
			img, err = s.openUserImage(def.PredefinedImage)
		} else {
			if captureIdx >= len(j.captured) {
				return fmt.Errorf("animation frame without capture")
			}
			img, err = s.openCaptured(j.captured[captureIdx])
			captureIdx++
		}
		if err != nil {
			return err
		}
		frames = append(frames, img)
		durations = append(durations, def.DurationMs)
	}

	aligned := pipeline.AlignSizes(frames, j.animation.CanvasWidth, j.animation.CanvasHeight)
	item, err := s.coll.CreateGifItem(aligned, durations, models.MediaTypeAnimation, j.animation, false)
	if err != nil {
		return err
	}
	j.result = item
	return nil
}

func (s *Service) finalizeVideo(j *job) error {
	if j.recordedFile == "" {
		return fmt.Errorf("no recorded clip")
	}
	item, err := s.coll.CreateVideoItem(j.recordedFile, *j.video)
	if err != nil {
		return err
	}
	j.result = item
	return nil
}

// assembleWigglegram loops the per-node stills forward then backward,
// skipping the endpoints on the way back.
func (s *Service) assembleWigglegram(j *job) error {
	frames := make([]image.Image, 0, len(j.captured)*2)
	for _, item := range j.captured {
		img, err := s.openCaptured(item)
		if err != nil {
			return err
		}
		frames = append(frames, img)
	}
	for i := len(frames) - 2; i >= 1; i-- {
		frames = append(frames, frames[i])
	}
	if len(frames) == 0 {
		return fmt.Errorf("no stills captured")
	}

	width := frames[0].Bounds().Dx()
	height := frames[0].Bounds().Dy()
	aligned := pipeline.AlignSizes(frames, width, height)

	durations := []int{j.multicam.AnimationDurationMs}
	item, err := s.coll.CreateGifItem(aligned, durations, models.MediaTypeMulticamera, j.multicam, false)
	if err != nil {
		return err
	}
	j.result = item
	return nil
}

// cleanupIntermediates unlinks collage/animation source captures when the
// operator chose not to retain them. Internal deletes never hit the recycle
// bin.
func (s *Service) cleanupIntermediates(j *job) {
	if j.kind != ActionCollage && j.kind != ActionAnimation && j.kind != ActionMulticamera {
		return
	}
	if s.retainIntermediates {
		return
	}
	for _, item := range j.captured {
		if err := s.coll.Delete(item.ID, false); err != nil {
			log.Printf("processing: cleanup of intermediate %s failed: %v", item.ID, err)
		}
	}
	j.captured = nil
}

// enterFinished tears the job down. Aborted jobs discard everything captured
// so far; completed jobs only announce the idle state.
func (s *Service) enterFinished(j *job, aborted bool) {
	if aborted {
		for _, item := range j.captured {
			if err := s.coll.Delete(item.ID, false); err != nil {
				log.Printf("processing: cleanup of aborted capture %s failed: %v", item.ID, err)
			}
		}
		log.Printf("processing: job %s aborted", j.id)
	} else {
		log.Printf("processing: job %s finished", j.id)
	}

	s.camera.SignalConfigureOptimizedForIdle()
	s.bus.Dispatch(sse.EventProcessStateinfo{Job: nil})
}

func (s *Service) openCaptured(item *models.MediaItem) (image.Image, error) {
	path := s.coll.OriginalPath(item)
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture %s unreadable: %w", item.ID, err)
	}
	return img, nil
}

func (s *Service) openUserImage(name string) (image.Image, error) {
	path, err := s.paths.UserFile(name)
	if err != nil {
		return nil, fmt.Errorf("predefined image lookup failed: %w", err)
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("predefined image '%s' unreadable: %w", name, err)
	}
	return img, nil
}
