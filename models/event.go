package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind is the closed set of upstream events the engine acts on.
type EventKind string

const (
	EventClickRecorded      EventKind = "click_recorded"
	EventOrderCreated       EventKind = "order_created"
	EventOrderUpdated       EventKind = "order_updated"
	EventOrderStatusChanged EventKind = "order_status_changed"
	EventProductCreated     EventKind = "product_created"
	EventProductUpdated     EventKind = "product_updated"
	EventProductDeleted     EventKind = "product_deleted"
	EventAppUninstalled     EventKind = "app_uninstalled"
)

var scopeKinds = map[string]EventKind{
	"store/click/recorded":      EventClickRecorded,
	"store/order/created":       EventOrderCreated,
	"store/order/updated":       EventOrderUpdated,
	"store/order/statusUpdated": EventOrderStatusChanged,
	"store/product/created":     EventProductCreated,
	"store/product/updated":     EventProductUpdated,
	"store/product/deleted":     EventProductDeleted,
	"store/app/uninstalled":     EventAppUninstalled,
}

// ParseScope maps an upstream scope string to its kind. Unknown scopes report false.
func ParseScope(scope string) (EventKind, bool) {
	kind, ok := scopeKinds[strings.TrimSpace(scope)]
	return kind, ok
}

// IsProduct reports whether the kind is forwarded to product sync.
func (k EventKind) IsProduct() bool {
	return k == EventProductCreated || k == EventProductUpdated || k == EventProductDeleted
}

// IsOrder reports whether the kind carries an order payload.
func (k EventKind) IsOrder() bool {
	return k == EventOrderCreated || k == EventOrderUpdated || k == EventOrderStatusChanged
}

// WebhookEnvelope is the upstream delivery wrapper around one event.
type WebhookEnvelope struct {
	Scope     string          `json:"scope"`
	StoreID   json.RawMessage `json:"store_id,omitempty"`
	StoreHash string          `json:"store_hash,omitempty"`
	Producer  string          `json:"producer,omitempty"`
	Hash      string          `json:"hash,omitempty"`
	CreatedAt json.RawMessage `json:"created_at,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TenantHash returns the store hash, from "stores/<hash>" or the explicit store_hash field.
func (e WebhookEnvelope) TenantHash() string {
	if hash, ok := strings.CutPrefix(strings.TrimSpace(e.Producer), "stores/"); ok && hash != "" {
		return hash
	}
	return strings.TrimSpace(e.StoreHash)
}

// ClickPayload is an affiliate click captured by the storefront script.
type ClickPayload struct {
	AffiliateID      string    `json:"affiliate_id" validate:"required"`
	VisitorKey       string    `json:"visitor_key" validate:"required"`
	ClickedAt        time.Time `json:"clicked_at" validate:"required"`
	LandingProductID *string   `json:"landing_product_id,omitempty"`
}

// ProductPayload identifies the product a catalog event refers to.
type ProductPayload struct {
	ProductID string `json:"product_id" validate:"required"`
}

// AttributionEvent is the canonical, platform-independent form of one delivery.
type AttributionEvent struct {
	StoreID    string          `json:"store_id" validate:"required"`
	Kind       EventKind       `json:"event_kind" validate:"required"`
	EventID    string          `json:"event_id" validate:"required"`
	Scope      string          `json:"scope"`
	OccurredAt time.Time       `json:"occurred_at"`
	Click      *ClickPayload   `json:"click,omitempty"`
	Order      *OrderPayload   `json:"order,omitempty"`
	Product    *ProductPayload `json:"product,omitempty"`
}

// Key returns the idempotency key of the event.
func (e *AttributionEvent) Key() IdempotencyKey {
	return IdempotencyKey{StoreID: e.StoreID, Kind: e.Kind, EventID: e.EventID}
}

// IdempotencyKey identifies one logical upstream event.
type IdempotencyKey struct {
	StoreID string
	Kind    EventKind
	EventID string
}

func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.StoreID, k.Kind, k.EventID)
}

// ForwardedEvent is what the engine hands to the product-sync and store-lifecycle queues.
type ForwardedEvent struct {
	StoreID    string    `json:"store_id"`
	Kind       EventKind `json:"kind"`
	Scope      string    `json:"scope"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	ProductID  string    `json:"product_id,omitempty"`
}
