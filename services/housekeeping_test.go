package services

import (
	"context"
	"testing"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"
	"github.com/moneyflowz367/affilync-bigcommerce/repository"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type spyLedger struct {
	repository.IdempotencyLedger
	prunedBefore time.Time
}

func (s *spyLedger) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	s.prunedBefore = olderThan
	return 4, nil
}

type spyClicks struct {
	repository.ClickRegistry
	evictedBefore time.Time
}

func (s *spyClicks) Evict(_ context.Context, olderThan time.Time) (int64, error) {
	s.evictedBefore = olderThan
	return 9, nil
}

func TestHousekeeper_RunOnceUsesWidestWindow(t *testing.T) {
	ledger, clicks := &spyLedger{}, &spyClicks{}
	stores := &fakeStores{stores: map[string]*models.Store{
		"a": {CookieDurationDays: 30},
		"b": {CookieDurationDays: 90},
	}}
	h := NewHousekeeper(ledger, clicks, stores, time.Hour, 7*24*time.Hour, 0, 30, nil, zap.NewNop())
	h.now = func() time.Time { return t0 }

	pruned, evicted := h.RunOnce(context.Background())
	assert.Equal(t, int64(4), pruned)
	assert.Equal(t, int64(9), evicted)
	assert.Equal(t, t0.Add(-7*24*time.Hour), ledger.prunedBefore)
	assert.Equal(t, t0.Add(-90*24*time.Hour), clicks.evictedBefore)
}

func TestHousekeeper_KeepsSaleLagBeyondWindow(t *testing.T) {
	clicks := &spyClicks{}
	stores := &fakeStores{stores: map[string]*models.Store{"a": {CookieDurationDays: 30}}}
	h := NewHousekeeper(&spyLedger{}, clicks, stores, time.Hour, time.Hour, 60*24*time.Hour, 30, nil, zap.NewNop())
	h.now = func() time.Time { return t0 }

	h.RunOnce(context.Background())
	assert.Equal(t, t0.Add(-90*24*time.Hour), clicks.evictedBefore)
}

func TestHousekeeper_FallsBackToDefaultWindow(t *testing.T) {
	ledger, clicks := &spyLedger{}, &spyClicks{}
	stores := &fakeStores{err: errUnavailable}
	h := NewHousekeeper(ledger, clicks, stores, time.Hour, time.Hour, 0, 30, nil, zap.NewNop())
	h.now = func() time.Time { return t0 }

	h.RunOnce(context.Background())
	assert.Equal(t, t0.Add(-30*24*time.Hour), clicks.evictedBefore)
}

func TestHousekeeper_StartStopsOnCancel(t *testing.T) {
	h := NewHousekeeper(&spyLedger{}, &spyClicks{}, &fakeStores{}, 5*time.Millisecond, time.Hour, 0, 30, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("housekeeper did not stop")
	}
}
