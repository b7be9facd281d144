package services

import (
	"context"
	"errors"
	"sync"

	"github.com/moneyflowz367/affilync-bigcommerce/models"
	"github.com/moneyflowz367/affilync-bigcommerce/repository"

	"github.com/google/uuid"
)

type memConversions struct {
	mu      sync.Mutex
	records map[string]models.ConversionRecord
	upserts int
	err     error
}

func newMemConversions() *memConversions {
	return &memConversions{records: make(map[string]models.ConversionRecord)}
}

func (m *memConversions) Upsert(_ context.Context, record *models.ConversionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.upserts++
	key := record.StoreID + ":" + record.OrderID
	if existing, ok := m.records[key]; ok {
		record.ID = existing.ID
		record.ResolutionCount = existing.ResolutionCount + 1
	} else {
		record.ID = uuid.New()
		record.ResolutionCount = 1
	}
	m.records[key] = *record
	return nil
}

func (m *memConversions) FindByOrder(_ context.Context, storeID, orderID string) (*models.ConversionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[storeID+":"+orderID]
	if !ok {
		return nil, repository.ErrConversionNotFound
	}
	return &rec, nil
}

func (m *memConversions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memConversions) upsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

type fakeStores struct {
	stores map[string]*models.Store
	err    error
}

func (f *fakeStores) FindByHash(_ context.Context, hash string) (*models.Store, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.stores[hash]
	if !ok {
		return nil, repository.ErrStoreNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStores) MaxCookieDurationDays(context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	widest := 0
	for _, s := range f.stores {
		if s.CookieDurationDays > widest {
			widest = s.CookieDurationDays
		}
	}
	return widest, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ConversionEvent
	err    error
	// onPublish runs before the error is returned
	onPublish func()
}

func (p *recordingPublisher) Publish(_ context.Context, event models.ConversionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onPublish != nil {
		p.onPublish()
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []models.ConversionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ConversionEvent(nil), p.events...)
}

type recordingForwarder struct {
	mu        sync.Mutex
	products  []models.ForwardedEvent
	lifecycle []models.ForwardedEvent
	err       error
}

func (f *recordingForwarder) ForwardProduct(_ context.Context, event models.ForwardedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.products = append(f.products, event)
	return nil
}

func (f *recordingForwarder) ForwardStoreLifecycle(_ context.Context, event models.ForwardedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.lifecycle = append(f.lifecycle, event)
	return nil
}

var errUnavailable = errors.New("connection refused")
