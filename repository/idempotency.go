package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"
)

// ReservationState is the result of CheckAndReserve.
type ReservationState int

const (
	// Reserved means the caller now owns the key and must Commit or Release it.
	Reserved ReservationState = iota
	// AlreadyProcessed means a previous delivery committed; Prior holds its outcome.
	AlreadyProcessed
)

// Reservation is returned by CheckAndReserve.
type Reservation struct {
	State ReservationState
	Token string
	Prior *models.Outcome
}

var (
	// ErrInFlight means another delivery holds a live reservation for the key.
	ErrInFlight = errors.New("idempotency key reserved by another delivery")
	// ErrReservationLost means the token no longer owns the key (expired and taken over).
	ErrReservationLost = errors.New("idempotency reservation no longer held")
)

// reserveAttempts bounds the retry loop when a competing reservation disappears
// between the failed insert and the follow-up read.
const reserveAttempts = 3

// IdempotencyLedger records which upstream events have been processed. The
// conditional reserve is the only serialization point between concurrent deliveries.
type IdempotencyLedger interface {
	CheckAndReserve(ctx context.Context, key models.IdempotencyKey) (Reservation, error)
	Commit(ctx context.Context, key models.IdempotencyKey, token string, outcome models.Outcome) error
	Release(ctx context.Context, key models.IdempotencyKey, token string) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// LedgerOptions are shared by all ledger backends.
type LedgerOptions struct {
	// ReservationTimeout after which an uncommitted reservation is considered abandoned.
	ReservationTimeout time.Duration
	// RetentionWindow for committed entries; must cover the upstream redelivery window.
	RetentionWindow time.Duration
}

// DefaultLedgerOptions matches the platform's redelivery behaviour.
func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{
		ReservationTimeout: 5 * time.Minute,
		RetentionWindow:    7 * 24 * time.Hour,
	}
}

func (o LedgerOptions) withDefaults() LedgerOptions {
	d := DefaultLedgerOptions()
	if o.ReservationTimeout <= 0 {
		o.ReservationTimeout = d.ReservationTimeout
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = d.RetentionWindow
	}
	return o
}

func encodeOutcome(outcome models.Outcome) ([]byte, error) {
	b, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	return b, nil
}

func decodeOutcome(raw []byte) (*models.Outcome, error) {
	if len(raw) == 0 {
		return &models.Outcome{}, nil
	}
	var outcome models.Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return &outcome, nil
}
