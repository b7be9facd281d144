package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConversionNotFound is returned when no record exists for an order.
var ErrConversionNotFound = errors.New("conversion record not found")

// ConversionRepository persists conversion records, one per (store, order).
type ConversionRepository interface {
	Upsert(ctx context.Context, record *models.ConversionRecord) error
	FindByOrder(ctx context.Context, storeID, orderID string) (*models.ConversionRecord, error)
}

// GormConversionRepository implements ConversionRepository using GORM.
type GormConversionRepository struct {
	db *gorm.DB
}

// NewGormConversionRepository creates a new GormConversionRepository.
func NewGormConversionRepository(db *gorm.DB) *GormConversionRepository {
	return &GormConversionRepository{db: db}
}

// Upsert inserts the record or overwrites the existing one for the same order, bumping
// resolution_count. The stored row is read back into record.
func (r *GormConversionRepository) Upsert(ctx context.Context, record *models.ConversionRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "store_id"}, {Name: "order_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"order_total":       gorm.Expr("EXCLUDED.order_total"),
					"currency":          gorm.Expr("EXCLUDED.currency"),
					"attributions":      gorm.Expr("EXCLUDED.attributions"),
					"attribution_model": gorm.Expr("EXCLUDED.attribution_model"),
					"resolved_at":       gorm.Expr("EXCLUDED.resolved_at"),
					"resolution_count":  gorm.Expr("conversion_records.resolution_count + 1"),
					"updated_at":        gorm.Expr("EXCLUDED.updated_at"),
				}),
			},
			clause.Returning{},
		).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("upsert conversion %s/%s: %w", record.StoreID, record.OrderID, err)
	}
	return nil
}

// FindByOrder retrieves the conversion record for an order.
func (r *GormConversionRepository) FindByOrder(ctx context.Context, storeID, orderID string) (*models.ConversionRecord, error) {
	var record models.ConversionRecord
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND order_id = ?", storeID, orderID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversion %s/%s: %w", storeID, orderID, err)
	}
	return &record, nil
}
