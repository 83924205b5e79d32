package repository

import (
	"github.com/google/uuid"

	"github.com/photobooth-app/photobooth/models"
)

// MediaItemRepository defines the persistence operations for the media
// catalog. Items are always returned newest first.
type MediaItemRepository interface {
	Insert(item *models.MediaItem) error
	Update(item *models.MediaItem) error
	GetByID(id uuid.UUID) (*models.MediaItem, error)
	GetLatest() (*models.MediaItem, error)
	List(offset, limit int) ([]models.MediaItem, error)
	DeleteByID(id uuid.UUID) error
	DeleteAll() error
	Count() (int64, error)
}

// UsageCounterRepository persists per-action usage statistics.
type UsageCounterRepository interface {
	Increment(action string) (int64, error)
	Get(action string) (int64, error)
	Reset(action string) error
	ResetAll() error
	All() (map[string]int64, error)
}
