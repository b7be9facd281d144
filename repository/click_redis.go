package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/redis/go-redis/v9"
)

const (
	clickKeyPrefix = "clicks:"
	clickSeqKey    = "click_seq"
	clickScanBatch = 200
)

// RedisClickRegistry keeps one sorted set per (store, visitor), scored by click time
// in milliseconds. Members are prefixed with a zero-padded sequence so clicks with
// equal scores keep insertion order.
type RedisClickRegistry struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisClickRegistry creates a new RedisClickRegistry. retention bounds how long an
// idle visitor set lives and should be at least the widest attribution window.
func NewRedisClickRegistry(client *redis.Client, retention time.Duration) *RedisClickRegistry {
	return &RedisClickRegistry{client: client, retention: retention}
}

func (r *RedisClickRegistry) getKey(storeID, visitorKey string) string {
	return fmt.Sprintf("%s%s:%s", clickKeyPrefix, storeID, visitorKey)
}

func (r *RedisClickRegistry) Record(ctx context.Context, click *models.ClickRecord) error {
	seq, err := r.client.Incr(ctx, clickSeqKey).Result()
	if err != nil {
		return fmt.Errorf("allocate click sequence: %w", err)
	}
	click.ID = uint64(seq)
	if click.CreatedAt.IsZero() {
		click.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(click)
	if err != nil {
		return fmt.Errorf("encode click: %w", err)
	}

	key := r.getKey(click.StoreID, click.VisitorKey)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(click.ClickedAt.UnixMilli()),
		Member: fmt.Sprintf("%020d|%s", seq, data),
	})
	if r.retention > 0 {
		pipe.Expire(ctx, key, r.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

func (r *RedisClickRegistry) FindCandidates(ctx context.Context, storeID, visitorKey string, asOf time.Time, window time.Duration) ([]models.ClickRecord, error) {
	if visitorKey == "" {
		return []models.ClickRecord{}, nil
	}
	members, err := r.client.ZRangeByScore(ctx, r.getKey(storeID, visitorKey), &redis.ZRangeBy{
		Min: strconv.FormatInt(asOf.Add(-window).UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(asOf.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("find candidate clicks: %w", err)
	}

	clicks := make([]models.ClickRecord, 0, len(members))
	for _, m := range members {
		_, data, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		var click models.ClickRecord
		if err := json.Unmarshal([]byte(data), &click); err != nil {
			return nil, fmt.Errorf("decode click: %w", err)
		}
		clicks = append(clicks, click)
	}
	sortClicks(clicks)
	return clicks, nil
}

// Evict trims every visitor set of clicks before olderThan.
func (r *RedisClickRegistry) Evict(ctx context.Context, olderThan time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	var removed int64

	iter := r.client.Scan(ctx, 0, clickKeyPrefix+"*", clickScanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := r.client.ZRemRangeByScore(ctx, key, "-inf", upper).Result()
		if err != nil {
			return removed, fmt.Errorf("evict clicks from %s: %w", key, err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan click sets: %w", err)
	}
	return removed, nil
}
