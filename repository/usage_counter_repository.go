package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/photobooth-app/photobooth/models"
)

type GormUsageCounterRepository struct {
	DB *gorm.DB
}

func NewGormUsageCounterRepository(db *gorm.DB) *GormUsageCounterRepository {
	return &GormUsageCounterRepository{DB: db}
}

func (r *GormUsageCounterRepository) Increment(action string) (int64, error) {
	counter := models.UsageCounter{Action: action, Count: 1, UpdatedAt: time.Now()}
	err := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "action"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("count + 1"), "updated_at": time.Now()}),
	}).Create(&counter).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", action, err)
	}
	return r.Get(action)
}

func (r *GormUsageCounterRepository) Get(action string) (int64, error) {
	var counter models.UsageCounter
	err := r.DB.First(&counter, "action = ?", action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query counter %s: %w", action, err)
	}
	return counter.Count, nil
}

func (r *GormUsageCounterRepository) Reset(action string) error {
	if err := r.DB.Delete(&models.UsageCounter{}, "action = ?", action).Error; err != nil {
		return fmt.Errorf("failed to reset counter %s: %w", action, err)
	}
	return nil
}

func (r *GormUsageCounterRepository) ResetAll() error {
	if err := r.DB.Where("1 = 1").Delete(&models.UsageCounter{}).Error; err != nil {
		return fmt.Errorf("failed to reset counters: %w", err)
	}
	return nil
}

func (r *GormUsageCounterRepository) All() (map[string]int64, error) {
	var counters []models.UsageCounter
	if err := r.DB.Find(&counters).Error; err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	out := make(map[string]int64, len(counters))
	for _, c := range counters {
		out[c.Action] = c.Count
	}
	return out, nil
}
