package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photobooth-app/photobooth/models"
)

// ErrNotFound is returned when a catalog lookup matches nothing.
var ErrNotFound = errors.New("mediaitem not found")

type GormMediaItemRepository struct {
	DB *gorm.DB
}

func NewGormMediaItemRepository(db *gorm.DB) *GormMediaItemRepository {
	return &GormMediaItemRepository{DB: db}
}

func (r *GormMediaItemRepository) Insert(item *models.MediaItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if err := r.DB.Create(item).Error; err != nil {
		return fmt.Errorf("failed to insert mediaitem: %w", err)
	}
	return nil
}

func (r *GormMediaItemRepository) Update(item *models.MediaItem) error {
	if err := r.DB.Save(item).Error; err != nil {
		return fmt.Errorf("failed to update mediaitem %s: %w", item.ID, err)
	}
	return nil
}

func (r *GormMediaItemRepository) GetByID(id uuid.UUID) (*models.MediaItem, error) {
	var item models.MediaItem
	err := r.DB.First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mediaitem %s: %w", id, err)
	}
	return &item, nil
}

func (r *GormMediaItemRepository) GetLatest() (*models.MediaItem, error) {
	var item models.MediaItem
	err := r.DB.Order("created_at DESC").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest mediaitem: %w", err)
	}
	return &item, nil
}

func (r *GormMediaItemRepository) List(offset, limit int) ([]models.MediaItem, error) {
	if limit <= 0 {
		limit = 500
	}
	var items []models.MediaItem
	err := r.DB.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list mediaitems: %w", err)
	}
	return items, nil
}

func (r *GormMediaItemRepository) DeleteByID(id uuid.UUID) error {
	res := r.DB.Delete(&models.MediaItem{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete mediaitem %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormMediaItemRepository) DeleteAll() error {
	if err := r.DB.Where("1 = 1").Delete(&models.MediaItem{}).Error; err != nil {
		return fmt.Errorf("failed to delete all mediaitems: %w", err)
	}
	return nil
}

func (r *GormMediaItemRepository) Count() (int64, error) {
	var count int64
	if err := r.DB.Model(&models.MediaItem{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count mediaitems: %w", err)
	}
	return count, nil
}
