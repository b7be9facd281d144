package services

import (
	"context"
	"time"

	awspkg "github.com/moneyflowz367/affilync-bigcommerce/pkg/aws"
	"github.com/moneyflowz367/affilync-bigcommerce/repository"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// Housekeeper prunes committed idempotency keys and evicts clicks no store can still
// attribute. Correctness never depends on it running.
//
// Candidates are looked up relative to when an order was placed, not when its sale status
// arrives, so eviction keeps saleLag beyond the widest window.
type Housekeeper struct {
	ledger            repository.IdempotencyLedger
	clicks            repository.ClickRegistry
	stores            repository.StoreRepository
	interval          time.Duration
	retention         time.Duration
	saleLag           time.Duration
	defaultCookieDays int
	metrics           *awspkg.MetricsClient
	logger            *zap.Logger
	now               func() time.Time
}

func NewHousekeeper(
	ledger repository.IdempotencyLedger,
	clicks repository.ClickRegistry,
	stores repository.StoreRepository,
	interval, retention, saleLag time.Duration,
	defaultCookieDays int,
	metrics *awspkg.MetricsClient,
	logger *zap.Logger,
) *Housekeeper {
	return &Housekeeper{
		ledger:            ledger,
		clicks:            clicks,
		stores:            stores,
		interval:          interval,
		retention:         retention,
		saleLag:           saleLag,
		defaultCookieDays: defaultCookieDays,
		metrics:           metrics,
		logger:            logger,
		now:               time.Now,
	}
}

// Start runs RunOnce every interval until ctx is cancelled. A non-positive interval disables it.
func (h *Housekeeper) Start(ctx context.Context) {
	if h.interval <= 0 {
		h.logger.Info("Housekeeping disabled")
		return
	}
	h.logger.Info("Housekeeping started", zap.Duration("interval", h.interval))

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Housekeeping stopped")
			return
		case <-ticker.C:
			h.RunOnce(ctx)
		}
	}
}

// RunOnce performs one prune and eviction pass. Failures are logged and retried next tick.
func (h *Housekeeper) RunOnce(ctx context.Context) (pruned, evicted int64) {
	now := h.now().UTC()

	pruned, err := h.ledger.Prune(ctx, now.Add(-h.retention))
	if err != nil {
		h.logger.Warn("Idempotency prune failed", zap.Error(err))
	}

	days := h.defaultCookieDays
	if widest, err := h.stores.MaxCookieDurationDays(ctx); err != nil {
		h.logger.Warn("Could not read widest attribution window, using default", zap.Error(err))
	} else if widest > days {
		days = widest
	}

	cutoff := now.Add(-time.Duration(days)*24*time.Hour - h.saleLag)
	evicted, err = h.clicks.Evict(ctx, cutoff)
	if err != nil {
		h.logger.Warn("Click eviction failed", zap.Error(err))
	}

	h.logger.Info("Housekeeping pass complete",
		zap.Int64("ledger_pruned", pruned),
		zap.Int64("clicks_evicted", evicted),
		zap.Int("window_days", days),
		zap.Duration("sale_lag", h.saleLag),
		zap.Time("evict_before", cutoff),
	)
	if h.metrics.IsEnabled() {
		dims := map[string]string{"Service": "attribution-service"}
		_ = h.metrics.PutMetrics(ctx, dims,
			awspkg.Datum{Name: awspkg.MetricLedgerPruned, Value: float64(pruned), Unit: cwtypes.StandardUnitCount},
			awspkg.Datum{Name: awspkg.MetricClicksEvicted, Value: float64(evicted), Unit: cwtypes.StandardUnitCount},
		)
	}
	return pruned, evicted
}
