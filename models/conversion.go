package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AttributionModel selects how credit is split across candidate clicks.
type AttributionModel string

const (
	ModelLastClick  AttributionModel = "last_click"
	ModelFirstClick AttributionModel = "first_click"
	ModelLinear     AttributionModel = "linear"

	// ModelTrackingCode marks records credited from a tracking code on the order itself
	// rather than from clicks. It is never a store setting.
	ModelTrackingCode AttributionModel = "tracking_code"
)

// Known reports whether m is a supported model.
func (m AttributionModel) Known() bool {
	switch m {
	case ModelLastClick, ModelFirstClick, ModelLinear:
		return true
	}
	return false
}

// AffiliateAttribution is one affiliate's credit on a conversion.
type AffiliateAttribution struct {
	AffiliateID    string          `json:"affiliate_id"`
	CreditedShare  float64         `json:"credited_share"`
	CreditedAmount decimal.Decimal `json:"credited_amount"`
}

// ConversionRecord is the attribution result for one order. At most one exists per (store, order).
type ConversionRecord struct {
	ID               uuid.UUID                                 `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID          string                                    `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversion_store_order,priority:1" json:"store_id"`
	OrderID          string                                    `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversion_store_order,priority:2" json:"order_id"`
	OrderTotal       decimal.Decimal                           `gorm:"type:numeric(14,2);not null" json:"order_total"`
	Currency         string                                    `gorm:"type:varchar(8)" json:"currency,omitempty"`
	Attributions     datatypes.JSONSlice[AffiliateAttribution] `gorm:"type:jsonb;not null" json:"attributions"`
	AttributionModel AttributionModel                          `gorm:"type:varchar(20);not null" json:"attribution_model"`
	ResolvedAt       time.Time                                 `gorm:"not null" json:"resolved_at"`
	ResolutionCount  int                                       `gorm:"not null" json:"resolution_count"`
	CreatedAt        time.Time                                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                                 `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ConversionRecord) TableName() string {
	return "conversion_records"
}

// Conversion event types published to the downstream ledger.
const (
	ConversionEventAttributed = "conversion.attributed"
	ConversionEventReversed   = "conversion.reversed"

	// ConversionEventUnattributed carries a record whose attributions were cleared by re-resolution.
	ConversionEventUnattributed = "conversion.unattributed"
)

// ConversionEvent is the message published downstream for each recorded or reversed conversion.
type ConversionEvent struct {
	Type        string            `json:"type"`
	StoreID     string            `json:"store_id"`
	OrderID     string            `json:"order_id"`
	OrderStatus string            `json:"order_status,omitempty"`
	Record      *ConversionRecord `json:"record"`
	Timestamp   time.Time         `json:"timestamp"`
}
