package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaType distinguishes catalog entries; captured stills that belong to a
// collage or animation keep their own type so the UI can treat them
// differently from plain images.
type MediaType string

const (
	MediaTypeImage          MediaType = "image"
	MediaTypeCollage        MediaType = "collage"
	MediaTypeCollageImage   MediaType = "collageimage"
	MediaTypeAnimation      MediaType = "animation"
	MediaTypeAnimationImage MediaType = "animationimage"
	MediaTypeVideo          MediaType = "video"
	MediaTypeMulticamera    MediaType = "multicamera"
)

// FileEnding returns the extension (without dot) of the original artifact
// for this media type.
func (t MediaType) FileEnding() string {
	switch t {
	case MediaTypeAnimation, MediaTypeMulticamera:
		return "gif"
	case MediaTypeVideo:
		return "mp4"
	default:
		return "jpg"
	}
}

// IsVideo reports whether derived representations are poster images instead
// of scaled stills.
func (t MediaType) IsVideo() bool {
	return t == MediaTypeVideo
}

// MediaItem represents one catalog entry in the database.
// The original file is never mutated after insert; derived representations
// are regenerated from it plus the JobConfig snapshot.
type MediaItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Type      MediaType `gorm:"not null;index" json:"media_type"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`

	// Filename of the original artifact below media/<kind>/original/
	Filename string `gorm:"not null;uniqueIndex" json:"filename"`

	// Hide keeps collage/animation source captures out of the gallery
	Hide bool `gorm:"not null;default:false" json:"hide"`

	// JobConfig is the JSON processing-configuration snapshot (filter,
	// overlays, frame) taken at capture time so regenerating derived
	// artifacts is deterministic.
	JobConfig string `gorm:"type:text" json:"-"`
}

func (MediaItem) TableName() string {
	return "mediaitems"
}

// MediaItemPublic is the wire representation handed to clients.
type MediaItemPublic struct {
	ID        uuid.UUID `json:"id"`
	Type      MediaType `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
	Filename  string    `json:"filename"`
	Hide      bool      `json:"hide"`

	Original  string `json:"original"`
	Full      string `json:"full"`
	Preview   string `json:"preview"`
	Thumbnail string `json:"thumbnail"`
}
