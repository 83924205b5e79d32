package models

import "time"

// UsageCounter persists per-action usage statistics (trigger counts, share
// quotas) across restarts.
type UsageCounter struct {
	Action    string    `gorm:"primaryKey" json:"action"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}
