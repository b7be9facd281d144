package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresLedger implements IdempotencyLedger on the idempotency_keys table.
type PostgresLedger struct {
	db   *gorm.DB
	opts LedgerOptions
	now  func() time.Time
}

// NewPostgresLedger creates a new PostgresLedger.
func NewPostgresLedger(db *gorm.DB, opts LedgerOptions) *PostgresLedger {
	return &PostgresLedger{db: db, opts: opts.withDefaults(), now: time.Now}
}

func (l *PostgresLedger) keyScope(key models.IdempotencyKey) *gorm.DB {
	return l.db.Model(&models.IdempotencyEntry{}).
		Where("store_id = ? AND event_kind = ? AND event_id = ?", key.StoreID, string(key.Kind), key.EventID)
}

// CheckAndReserve inserts a reservation with ON CONFLICT DO NOTHING. On conflict it
// tries to take over an abandoned reservation, then reports the existing entry.
func (l *PostgresLedger) CheckAndReserve(ctx context.Context, key models.IdempotencyKey) (Reservation, error) {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		now := l.now().UTC()
		token := uuid.NewString()

		entry := models.IdempotencyEntry{
			StoreID:    key.StoreID,
			EventKind:  string(key.Kind),
			EventID:    key.EventID,
			Status:     models.LedgerStatusReserved,
			Token:      token,
			ReservedAt: now,
		}
		res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return Reservation{}, fmt.Errorf("reserve %s: %w", key, res.Error)
		}
		if res.RowsAffected == 1 {
			return Reservation{State: Reserved, Token: token}, nil
		}

		cutoff := now.Add(-l.opts.ReservationTimeout)
		takeover := l.keyScope(key).WithContext(ctx).
			Where("status = ? AND reserved_at < ?", models.LedgerStatusReserved, cutoff).
			Updates(map[string]interface{}{"token": token, "reserved_at": now})
		if takeover.Error != nil {
			return Reservation{}, fmt.Errorf("take over %s: %w", key, takeover.Error)
		}
		if takeover.RowsAffected == 1 {
			return Reservation{State: Reserved, Token: token}, nil
		}

		var existing models.IdempotencyEntry
		err := l.keyScope(key).WithContext(ctx).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// released between our insert and read; race for it again
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("read %s: %w", key, err)
		}

		if existing.Status == models.LedgerStatusCommitted {
			prior, err := decodeOutcome(existing.Outcome)
			if err != nil {
				return Reservation{}, err
			}
			return Reservation{State: AlreadyProcessed, Prior: prior}, nil
		}
		return Reservation{}, ErrInFlight
	}
	return Reservation{}, ErrInFlight
}

// Commit marks a reservation processed and stores its outcome.
func (l *PostgresLedger) Commit(ctx context.Context, key models.IdempotencyKey, token string, outcome models.Outcome) error {
	raw, err := encodeOutcome(outcome)
	if err != nil {
		return err
	}
	now := l.now().UTC()
	res := l.keyScope(key).WithContext(ctx).
		Where("token = ? AND status = ?", token, models.LedgerStatusReserved).
		Updates(map[string]interface{}{
			"status":       models.LedgerStatusCommitted,
			"processed_at": now,
			"outcome":      datatypes.JSON(raw),
		})
	if res.Error != nil {
		return fmt.Errorf("commit %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReservationLost
	}
	return nil
}

// Release drops a reservation so a redelivery can retry the event.
func (l *PostgresLedger) Release(ctx context.Context, key models.IdempotencyKey, token string) error {
	res := l.db.WithContext(ctx).
		Where("store_id = ? AND event_kind = ? AND event_id = ? AND token = ? AND status = ?",
			key.StoreID, string(key.Kind), key.EventID, token, models.LedgerStatusReserved).
		Delete(&models.IdempotencyEntry{})
	if res.Error != nil {
		return fmt.Errorf("release %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReservationLost
	}
	return nil
}

// Prune deletes committed entries processed before olderThan, and reservations
// abandoned since before it.
func (l *PostgresLedger) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("(status = ? AND processed_at < ?) OR (status = ? AND reserved_at < ?)",
			models.LedgerStatusCommitted, olderThan, models.LedgerStatusReserved, olderThan).
		Delete(&models.IdempotencyEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune idempotency keys: %w", res.Error)
	}
	return res.RowsAffected, nil
}
