package models

// Outcome statuses recorded in the ledger and replayed for duplicate deliveries.
const (
	OutcomeClickRecorded     = "click_recorded"
	OutcomeAttributed        = "attributed"
	OutcomeNoAttribution     = "no_attribution"
	OutcomeOrderLogged       = "order_logged"
	OutcomeReversalForwarded = "reversal_forwarded"
	OutcomeForwarded         = "forwarded"
	OutcomeProductLogged     = "product_logged"
	OutcomeStoreInactive     = "store_inactive"
)

// Outcome is the replayable result of one committed delivery.
type Outcome struct {
	Status       string                 `json:"status"`
	Kind         EventKind              `json:"kind"`
	OrderID      string                 `json:"order_id,omitempty"`
	AffiliateID  string                 `json:"affiliate_id,omitempty"`
	ProductID    string                 `json:"product_id,omitempty"`
	Model        AttributionModel       `json:"attribution_model,omitempty"`
	Attributions []AffiliateAttribution `json:"attributions,omitempty"`
	Message      string                 `json:"message,omitempty"`
}

// DispatchState is the lifecycle position of one delivery.
type DispatchState string

const (
	StateReceived     DispatchState = "received"
	StateVerified     DispatchState = "verified"
	StateNormalized   DispatchState = "normalized"
	StateDedupChecked DispatchState = "dedup_checked"
	StateResolved     DispatchState = "resolved"
	StateCommitted    DispatchState = "committed"
	StateRejected     DispatchState = "rejected"
	StateSkipped      DispatchState = "skipped"
	StateFailed       DispatchState = "failed"
)

// Terminal reports whether no further transition follows s.
func (s DispatchState) Terminal() bool {
	switch s {
	case StateCommitted, StateRejected, StateSkipped, StateFailed:
		return true
	}
	return false
}
