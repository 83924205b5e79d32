package sse

import (
	"encoding/json"
	"log"
	"time"

	"github.com/photobooth-app/photobooth/models"
)

// Event is one tagged server-sent event. Data must marshal to JSON.
type Event interface {
	EventName() string
	Data() interface{}
}

func encode(e Event) []byte {
	b, err := json.Marshal(e.Data())
	if err != nil {
		log.Printf("sse: failed to marshal %s event: %v", e.EventName(), err)
		return []byte("{}")
	}
	return b
}

// EventProcessStateinfo carries the current job state so the UI can render
// countdowns and capture progress. A nil Job means the machine is idle again.
type EventProcessStateinfo struct {
	Job interface{} `json:"job"`
}

func (EventProcessStateinfo) EventName() string { return "ProcessStateinfo" }
func (e EventProcessStateinfo) Data() interface{} {
	if e.Job == nil {
		return map[string]interface{}{}
	}
	return e.Job
}

type EventFrontendNotification struct {
	Caption string `json:"caption"`
	Message string `json:"message"`
	Color   string `json:"color,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Spinner bool   `json:"spinner,omitempty"`
}

func (EventFrontendNotification) EventName() string   { return "FrontendNotification" }
func (e EventFrontendNotification) Data() interface{} { return e }

type EventLogRecord struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

func (EventLogRecord) EventName() string   { return "LogRecord" }
func (e EventLogRecord) Data() interface{} { return e }

type EventDbInsert struct {
	MediaItem models.MediaItemPublic `json:"mediaitem"`
}

func (EventDbInsert) EventName() string   { return "DbInsert" }
func (e EventDbInsert) Data() interface{} { return e }

type EventDbRemove struct {
	MediaItem models.MediaItemPublic `json:"mediaitem"`
}

func (EventDbRemove) EventName() string   { return "DbRemove" }
func (e EventDbRemove) Data() interface{} { return e }

// EventOnetimeInformationRecord is sent once per subscriber on connect.
type EventOnetimeInformationRecord struct {
	Version       string `json:"version"`
	PlatformOS    string `json:"platform_os"`
	PlatformArch  string `json:"platform_arch"`
	Hostname      string `json:"hostname"`
	CPUCount      int    `json:"cpu_count"`
	DataDirectory string `json:"data_directory"`
}

func (EventOnetimeInformationRecord) EventName() string   { return "OnetimeInformationRecord" }
func (e EventOnetimeInformationRecord) Data() interface{} { return e }

// EventIntervalInformationRecord carries periodically gathered observables.
type EventIntervalInformationRecord struct {
	Backends      map[string]interface{} `json:"backends"`
	StatsCounter  map[string]int64       `json:"stats_counter"`
	LimitsCounter map[string]int64       `json:"limits_counter"`
	DiskFree      uint64                 `json:"disk_free"`
}

func (EventIntervalInformationRecord) EventName() string   { return "IntervalInformationRecord" }
func (e EventIntervalInformationRecord) Data() interface{} { return e }

type EventPing struct{}

func (EventPing) EventName() string { return "ping" }
func (EventPing) Data() interface{} {
	return map[string]string{"time": time.Now().UTC().Format(time.RFC3339)}
}
