package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisReservedPrefix  = "reserved:"
	redisCommittedPrefix = "committed:"
)

// commitScript swaps a held reservation for the committed outcome.
var commitScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

// releaseScript deletes the key only while the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLedger implements IdempotencyLedger with SET NX. Reservation expiry is the
// abandonment rule and committed keys expire after the retention window.
type RedisLedger struct {
	client *redis.Client
	opts   LedgerOptions
}

// NewRedisLedger creates a new RedisLedger.
func NewRedisLedger(client *redis.Client, opts LedgerOptions) *RedisLedger {
	return &RedisLedger{client: client, opts: opts.withDefaults()}
}

func (l *RedisLedger) getKey(key models.IdempotencyKey) string {
	return fmt.Sprintf("idem:attribution:%s:%s:%s", key.StoreID, key.Kind, key.EventID)
}

func (l *RedisLedger) CheckAndReserve(ctx context.Context, key models.IdempotencyKey) (Reservation, error) {
	redisKey := l.getKey(key)
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		token := uuid.NewString()
		ok, err := l.client.SetNX(ctx, redisKey, redisReservedPrefix+token, l.opts.ReservationTimeout).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("reserve %s: %w", key, err)
		}
		if ok {
			return Reservation{State: Reserved, Token: token}, nil
		}

		val, err := l.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("read %s: %w", key, err)
		}

		if raw, ok := strings.CutPrefix(val, redisCommittedPrefix); ok {
			prior, err := decodeOutcome([]byte(raw))
			if err != nil {
				return Reservation{}, err
			}
			return Reservation{State: AlreadyProcessed, Prior: prior}, nil
		}
		return Reservation{}, ErrInFlight
	}
	return Reservation{}, ErrInFlight
}

func (l *RedisLedger) Commit(ctx context.Context, key models.IdempotencyKey, token string, outcome models.Outcome) error {
	raw, err := encodeOutcome(outcome)
	if err != nil {
		return err
	}
	n, err := commitScript.Run(ctx, l.client,
		[]string{l.getKey(key)},
		redisReservedPrefix+token,
		redisCommittedPrefix+string(raw),
		l.opts.RetentionWindow.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	if n == 0 {
		return ErrReservationLost
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, key models.IdempotencyKey, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.getKey(key)}, redisReservedPrefix+token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		return ErrReservationLost
	}
	return nil
}

// Prune is a no-op: key TTLs already enforce retention.
func (l *RedisLedger) Prune(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
