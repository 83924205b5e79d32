package backends

import (
	"errors"
	"time"
)

// Error kinds shared by all drivers. The acquisition supervisor recovers
// from these locally; they never propagate further except when a still is
// strictly required.
var (
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrNotSupported       = errors.New("not supported by backend")
	ErrShutdown           = errors.New("shutdown in progress")
)

// default wait for a single lores frame
const frameWaitTimeout = 1 * time.Second

// BackendStats are per-backend observables, written by the device worker and
// read by the information service. Fields a driver cannot provide stay zero.
type BackendStats struct {
	BackendName       string  `json:"backend_name"`
	Fps               float64 `json:"fps"`
	ExposureTimeMs    float64 `json:"exposure_time_ms,omitempty"`
	Gain              float64 `json:"gain,omitempty"`
	ColourTemperature int     `json:"colour_temperature,omitempty"`
	LensPosition      float64 `json:"lens_position,omitempty"`
}

// Backend is the capability contract every camera driver satisfies.
//
// Start and Stop are idempotent; a failed Start is non-fatal, the supervisor
// retries. Optional capabilities answer ErrNotSupported. WaitForStillFile
// and WaitForLoresImage fail with ErrBackendTimeout when the device cannot
// deliver in time and ErrBackendUnavailable when it is not ready at all.
type Backend interface {
	Name() string

	Start() error
	Stop()

	// WaitForStillFile produces a high-quality still and returns the path of
	// a temporary file owned by the caller afterwards.
	WaitForStillFile(timeout time.Duration) (string, error)

	// WaitForLoresImage returns JPEG bytes suitable for streaming.
	WaitForLoresImage(timeout time.Duration) ([]byte, error)

	// WaitForMulticamFiles produces one still per camera node.
	WaitForMulticamFiles(timeout time.Duration) ([]string, error)

	StartRecording(framerate int) error
	StopRecording() error
	GetRecordedVideo() (string, error)

	DeviceAlive() bool
	DeviceAvailable() bool

	// MarkedFaulty is set by the device worker when it detects unrecoverable
	// loss; the supervisor observes it and restarts the backend.
	MarkedFaulty() bool

	// Mode hints; drivers may treat them as no-ops.
	ConfigureOptimizedForIdle()
	ConfigureOptimizedForHQPreview()
	ConfigureOptimizedForHQCapture()
	ConfigureOptimizedForVideo()

	Stats() BackendStats
}
