package services

import (
	"context"
	"errors"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/clients"
	apperrors "github.com/moneyflowz367/affilync-bigcommerce/common/errors"
	"github.com/moneyflowz367/affilync-bigcommerce/models"
	"github.com/moneyflowz367/affilync-bigcommerce/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ConversionRecorder persists resolved conversions and reports them downstream.
type ConversionRecorder struct {
	repo      repository.ConversionRepository
	publisher clients.ConversionPublisher
	logger    *zap.Logger
}

func NewConversionRecorder(repo repository.ConversionRepository, publisher clients.ConversionPublisher, logger *zap.Logger) *ConversionRecorder {
	return &ConversionRecorder{repo: repo, publisher: publisher, logger: logger}
}

// Record upserts the record on (store, order) and publishes it. Both steps are safe to repeat.
func (r *ConversionRecorder) Record(ctx context.Context, record *models.ConversionRecord) (*models.ConversionRecord, error) {
	if err := r.save(ctx, record, models.ConversionEventAttributed); err != nil {
		return nil, err
	}

	r.logger.Info("Conversion recorded",
		zap.String("store_id", record.StoreID),
		zap.String("order_id", record.OrderID),
		zap.String("attribution_model", string(record.AttributionModel)),
		zap.Int("affiliates", len(record.Attributions)),
		zap.Int("resolution_count", record.ResolutionCount),
	)
	return record, nil
}

// Unattribute overwrites a previously recorded conversion with an empty attribution after a
// re-resolution found no candidate, and publishes the change. It reports false when the
// order was never recorded, in which case nothing is written.
func (r *ConversionRecorder) Unattribute(ctx context.Context, storeID string, order *models.OrderPayload, model models.AttributionModel, now time.Time) (bool, error) {
	_, err := r.repo.FindByOrder(ctx, storeID, order.OrderID)
	if errors.Is(err, repository.ErrConversionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, err)
	}

	record := &models.ConversionRecord{
		StoreID:          storeID,
		OrderID:          order.OrderID,
		OrderTotal:       order.OrderTotal,
		Currency:         order.Currency,
		Attributions:     datatypes.JSONSlice[models.AffiliateAttribution]{},
		AttributionModel: model,
		ResolvedAt:       now.UTC(),
		ResolutionCount:  1,
	}
	if err := r.save(ctx, record, models.ConversionEventUnattributed); err != nil {
		return false, err
	}

	r.logger.Info("Conversion attribution cleared",
		zap.String("store_id", storeID),
		zap.String("order_id", order.OrderID),
		zap.Int("resolution_count", record.ResolutionCount),
	)
	return true, nil
}

func (r *ConversionRecorder) save(ctx context.Context, record *models.ConversionRecord, eventType string) error {
	if err := r.repo.Upsert(ctx, record); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, err)
	}

	event := models.ConversionEvent{
		Type:      eventType,
		StoreID:   record.StoreID,
		OrderID:   record.OrderID,
		Record:    record,
		Timestamp: record.ResolvedAt,
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		return apperrors.Wrap(apperrors.ErrDownstream, err)
	}
	return nil
}

// PublishReversal announces that a previously attributed order was refunded, cancelled or
// declined. It reports false when the order was never attributed. The record is left as is.
func (r *ConversionRecorder) PublishReversal(ctx context.Context, storeID string, order *models.OrderPayload, at time.Time) (bool, error) {
	record, err := r.repo.FindByOrder(ctx, storeID, order.OrderID)
	if errors.Is(err, repository.ErrConversionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, err)
	}

	event := models.ConversionEvent{
		Type:        models.ConversionEventReversed,
		StoreID:     storeID,
		OrderID:     order.OrderID,
		OrderStatus: order.Status.String(),
		Record:      record,
		Timestamp:   at.UTC(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		return false, apperrors.Wrap(apperrors.ErrDownstream, err)
	}
	r.logger.Info("Conversion reversal published",
		zap.String("store_id", storeID),
		zap.String("order_id", order.OrderID),
		zap.String("order_status", order.Status.String()),
	)
	return true, nil
}
