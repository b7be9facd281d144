package models

import (
	"time"

	"gorm.io/datatypes"
)

// Ledger entry statuses
const (
	LedgerStatusReserved  = "reserved"
	LedgerStatusCommitted = "committed"
)

// IdempotencyEntry is one row of the idempotency ledger.
type IdempotencyEntry struct {
	StoreID     string         `gorm:"type:varchar(64);primaryKey"`
	EventKind   string         `gorm:"type:varchar(32);primaryKey"`
	EventID     string         `gorm:"type:varchar(128);primaryKey"`
	Status      string         `gorm:"type:varchar(16);not null;index:idx_idempotency_status_time,priority:1"`
	Token       string         `gorm:"type:varchar(64);not null"`
	ReservedAt  time.Time      `gorm:"not null"`
	ProcessedAt *time.Time     `gorm:"index:idx_idempotency_status_time,priority:2"`
	Outcome     datatypes.JSON `gorm:"type:jsonb"`
}

func (IdempotencyEntry) TableName() string {
	return "idempotency_keys"
}
