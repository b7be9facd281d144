package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"gorm.io/gorm"
)

// ClickRegistry stores affiliate clicks partitioned by store and visitor.
type ClickRegistry interface {
	Record(ctx context.Context, click *models.ClickRecord) error
	// FindCandidates returns clicks strictly before asOf with asOf-clicked_at <= window,
	// ordered by (clicked_at, insertion sequence).
	FindCandidates(ctx context.Context, storeID, visitorKey string, asOf time.Time, window time.Duration) ([]models.ClickRecord, error)
	// Evict deletes clicks older than the cutoff. Housekeeping only.
	Evict(ctx context.Context, olderThan time.Time) (int64, error)
}

// GormClickRegistry implements ClickRegistry on the affiliate_clicks table.
type GormClickRegistry struct {
	db *gorm.DB
}

// NewGormClickRegistry creates a new GormClickRegistry.
func NewGormClickRegistry(db *gorm.DB) *GormClickRegistry {
	return &GormClickRegistry{db: db}
}

func (r *GormClickRegistry) Record(ctx context.Context, click *models.ClickRecord) error {
	if err := r.db.WithContext(ctx).Create(click).Error; err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

func (r *GormClickRegistry) FindCandidates(ctx context.Context, storeID, visitorKey string, asOf time.Time, window time.Duration) ([]models.ClickRecord, error) {
	if visitorKey == "" {
		return []models.ClickRecord{}, nil
	}
	var clicks []models.ClickRecord
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND visitor_key = ? AND clicked_at < ? AND clicked_at >= ?",
			storeID, visitorKey, asOf, asOf.Add(-window)).
		Order("clicked_at ASC, id ASC").
		Find(&clicks).Error
	if err != nil {
		return nil, fmt.Errorf("find candidate clicks: %w", err)
	}
	return clicks, nil
}

func (r *GormClickRegistry) Evict(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("clicked_at < ?", olderThan).Delete(&models.ClickRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("evict clicks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// sortClicks orders clicks by (clicked_at, id) in place.
func sortClicks(clicks []models.ClickRecord) {
	sort.SliceStable(clicks, func(i, j int) bool { return clicks[i].Before(clicks[j]) })
}
