package processing

import (
	"time"

	"github.com/google/uuid"

	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/models"
)

// ActionKind selects which configured action family a trigger addresses.
type ActionKind string

const (
	ActionImage       ActionKind = "image"
	ActionCollage     ActionKind = "collage"
	ActionAnimation   ActionKind = "animation"
	ActionVideo       ActionKind = "video"
	ActionMulticamera ActionKind = "multicamera"
)

// job carries the full config snapshot taken at trigger time plus the
// mutable progress of one run through the state machine. Config changes
// while a job runs never affect it.
type job struct {
	id   uuid.UUID
	kind ActionKind
	name string

	countdownFirst     float64
	countdownFollowing float64
	cameraOffset       float64
	askApproval        bool
	autoconfirmTimeout time.Duration
	hideIndividual     bool

	picDef    config.SinglePictureDefinition
	collage   *config.CollageProcessing
	animation *config.AnimationProcessing
	video     *config.VideoProcessing
	multicam  *config.MulticameraProcessing

	capturesTotal int
	capturesTaken int
	captured      []*models.MediaItem

	state        state
	countdownS   float64
	recordedFile string
	result       *models.MediaItem
}

// remaining reports how many captures the job still needs.
func (j *job) remaining() int { return j.capturesTotal - j.capturesTaken }

// countdownDuration picks the first or following countdown for the upcoming
// capture. A following value of 0 reuses the first one.
func (j *job) countdownDuration() float64 {
	if j.capturesTaken == 0 {
		return j.countdownFirst
	}
	if j.countdownFollowing > 0 {
		return j.countdownFollowing
	}
	return j.countdownFirst
}

// captureSlots maps captured images onto merge-definition slots, skipping
// slots served by a predefined image.
func collageCaptureSlots(proc *config.CollageProcessing) []int {
	var slots []int
	for i, def := range proc.MergeDefinition {
		if def.PredefinedImage == "" {
			slots = append(slots, i)
		}
	}
	return slots
}

func animationCaptureSlots(proc *config.AnimationProcessing) []int {
	var slots []int
	for i, def := range proc.MergeDefinition {
		if def.PredefinedImage == "" {
			slots = append(slots, i)
		}
	}
	return slots
}

// JobInfo is the public snapshot pushed with every ProcessStateinfo event.
type JobInfo struct {
	ID                uuid.UUID               `json:"id"`
	Kind              ActionKind              `json:"kind"`
	Name              string                  `json:"name"`
	State             string                  `json:"state"`
	CountdownS        float64                 `json:"countdown_s"`
	CapturesTotal     int                     `json:"captures_total"`
	CapturesTaken     int                     `json:"captures_taken"`
	AskApproval       bool                    `json:"ask_approval"`
	LastCapture       *models.MediaItemPublic `json:"last_capture,omitempty"`
	ResultItem        *models.MediaItemPublic `json:"result,omitempty"`
	AutoconfirmAfterS float64                 `json:"autoconfirm_after_s,omitempty"`
}
