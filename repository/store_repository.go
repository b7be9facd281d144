package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"gorm.io/gorm"
)

// ErrStoreNotFound is returned when no installation matches a store hash.
var ErrStoreNotFound = errors.New("store not found")

// StoreRepository is the read-only store configuration lookup.
type StoreRepository interface {
	FindByHash(ctx context.Context, storeHash string) (*models.Store, error)
	// MaxCookieDurationDays is the widest attribution window any store uses.
	MaxCookieDurationDays(ctx context.Context) (int, error)
}

// GormStoreRepository implements StoreRepository using GORM.
type GormStoreRepository struct {
	db *gorm.DB
}

// NewGormStoreRepository creates a new GormStoreRepository.
func NewGormStoreRepository(db *gorm.DB) *GormStoreRepository {
	return &GormStoreRepository{db: db}
}

func (r *GormStoreRepository) FindByHash(ctx context.Context, storeHash string) (*models.Store, error) {
	var store models.Store
	err := r.db.WithContext(ctx).Where("store_hash = ?", storeHash).First(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find store %s: %w", storeHash, err)
	}
	return &store, nil
}

func (r *GormStoreRepository) MaxCookieDurationDays(ctx context.Context) (int, error) {
	var days int
	err := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Select("COALESCE(MAX(cookie_duration_days), 0)").
		Scan(&days).Error
	if err != nil {
		return 0, fmt.Errorf("max cookie duration: %w", err)
	}
	return days, nil
}
