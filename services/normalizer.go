package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/moneyflowz367/affilync-bigcommerce/common/errors"
	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// NormalizeResult holds either a canonical event or a Skip for scopes the engine does not handle.
type NormalizeResult struct {
	Event *models.AttributionEvent
	Skip  bool
}

// EventNormalizer maps upstream envelopes onto models.AttributionEvent.
type EventNormalizer struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewEventNormalizer() *EventNormalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &EventNormalizer{validate: v, now: time.Now}
}

var orderTotalFields = []string{"order_total", "total_inc_tax", "total_ex_tax", "subtotal_inc_tax", "subtotal_ex_tax"}

var timestampLayouts = []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123, "2006-01-02 15:04:05"}

// Normalize decodes one envelope. raw is the whole envelope as received, including scope
// and hash, so the fallback event id covers everything the platform sent.
func (n *EventNormalizer) Normalize(storeID, scope string, raw json.RawMessage) (NormalizeResult, error) {
	kind, ok := models.ParseScope(scope)
	if !ok {
		return NormalizeResult{Skip: true}, nil
	}

	var env models.WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return NormalizeResult{}, validationError(kind, fmt.Errorf("decode envelope: %w", err))
	}

	eventID := strings.TrimSpace(env.Hash)
	if eventID == "" {
		fp, err := fingerprint(raw)
		if err != nil {
			return NormalizeResult{}, validationError(kind, err)
		}
		eventID = fp
	}

	occurredAt, ok := parseTimestamp(env.CreatedAt)
	if !ok {
		occurredAt = n.now().UTC()
	}

	data := map[string]json.RawMessage{}
	if present(env.Data) {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return NormalizeResult{}, validationError(kind, fmt.Errorf("decode data: %w", err))
		}
	}

	event := &models.AttributionEvent{
		StoreID:    storeID,
		Kind:       kind,
		EventID:    eventID,
		Scope:      scope,
		OccurredAt: occurredAt,
	}

	switch {
	case kind == models.EventClickRecorded:
		event.Click = buildClick(data, occurredAt)
	case kind.IsOrder():
		order, err := buildOrder(kind, data)
		if err != nil {
			return NormalizeResult{}, validationError(kind, err)
		}
		event.Order = order
	case kind.IsProduct():
		event.Product = &models.ProductPayload{ProductID: firstString(data, "id", "product_id")}
	}

	if err := n.validate.Struct(event); err != nil {
		return NormalizeResult{}, validationError(kind, describeValidation(err))
	}
	return NormalizeResult{Event: event}, nil
}

func buildClick(data map[string]json.RawMessage, occurredAt time.Time) *models.ClickPayload {
	click := &models.ClickPayload{
		AffiliateID: firstString(data, "affiliate_id"),
		VisitorKey:  firstString(data, "visitor_key"),
	}
	if at, ok := parseTimestamp(data["clicked_at"]); ok {
		click.ClickedAt = at
	} else {
		click.ClickedAt = occurredAt
	}
	if landing := firstString(data, "landing_product_id"); landing != "" {
		click.LandingProductID = &landing
	}
	return click
}

func buildOrder(kind models.EventKind, data map[string]json.RawMessage) (*models.OrderPayload, error) {
	order := &models.OrderPayload{
		OrderID:            firstString(data, "id", "order_id"),
		CustomerVisitorKey: firstString(data, "customer_visitor_key", "visitor_key"),
		Currency:           firstString(data, "currency_code", "currency"),
	}
	if order.CustomerVisitorKey == "" {
		var meta map[string]json.RawMessage
		if present(data["metadata"]) && json.Unmarshal(data["metadata"], &meta) == nil {
			order.CustomerVisitorKey = firstString(meta, "visitor_key")
		}
	}
	order.TrackingCode = extractTrackingCode(data)

	status, previous, err := parseStatus(data)
	if err != nil {
		return nil, err
	}
	order.Status, order.PreviousStatus = status, previous

	total, hasTotal := firstDecimal(data, orderTotalFields...)
	order.OrderTotal = total

	for _, field := range []string{"date_created", "placed_at"} {
		if at, ok := parseTimestamp(data[field]); ok {
			order.PlacedAt = &at
			break
		}
	}

	items, err := parseLineItems(data)
	if err != nil {
		return nil, err
	}
	order.LineItems = items

	if kind == models.EventOrderStatusChanged {
		if !order.Status.Valid() {
			return nil, errors.New("status is required")
		}
		// crediting needs an amount
		if order.Status.CountsAsSale() && !hasTotal {
			return nil, errors.New("order_total is required")
		}
	}
	return order, nil
}

// parseStatus accepts {"new_status_id","previous_status_id"} objects, bare ids, numeric
// strings, status names, and top-level status_id/previous_status_id fields.
func parseStatus(data map[string]json.RawMessage) (models.OrderStatus, models.OrderStatus, error) {
	var status, previous models.OrderStatus

	if raw := data["status"]; present(raw) {
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return 0, 0, fmt.Errorf("status: %w", err)
			}
			if id, ok := flexInt(obj["new_status_id"]); ok {
				status = models.OrderStatus(id)
			}
			if id, ok := flexInt(obj["previous_status_id"]); ok {
				previous = models.OrderStatus(id)
			}
		} else if id, ok := flexInt(raw); ok {
			status = models.OrderStatus(id)
		} else if s, ok := models.ParseOrderStatusName(flexString(raw)); ok {
			status = s
		}
	}
	if status == models.OrderStatusUnknown {
		if id, ok := flexInt(data["status_id"]); ok {
			status = models.OrderStatus(id)
		}
	}
	if previous == models.OrderStatusUnknown {
		if id, ok := flexInt(data["previous_status_id"]); ok {
			previous = models.OrderStatus(id)
		}
	}
	return status, previous, nil
}

func parseLineItems(data map[string]json.RawMessage) ([]models.LineItem, error) {
	var raw json.RawMessage
	for _, field := range []string{"line_items", "products"} {
		if present(data[field]) {
			raw = data[field]
			break
		}
	}
	if raw == nil {
		return nil, nil
	}
	// BigCommerce sends a resource link object here unless products were expanded
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return nil, nil
	}
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("line_items: %w", err)
	}
	items := make([]models.LineItem, 0, len(rows))
	for _, row := range rows {
		qty, _ := flexInt(row["quantity"])
		price, _ := firstDecimal(row, "price", "price_inc_tax", "base_price")
		items = append(items, models.LineItem{
			ProductID: firstString(row, "product_id", "id"),
			Quantity:  int(qty),
			Price:     price,
		})
	}
	return items, nil
}

// fingerprint is the first 32 hex chars of sha256 over the envelope, minus its hash, with keys sorted.
func fingerprint(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	if m, ok := v.(map[string]interface{}); ok {
		delete(m, "hash")
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:32], nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// flexString reads a JSON string or number as a string.
func flexString(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func firstString(data map[string]json.RawMessage, fields ...string) string {
	for _, f := range fields {
		if s := flexString(data[f]); s != "" {
			return s
		}
	}
	return ""
}

func flexInt(raw json.RawMessage) (int64, bool) {
	s := flexString(raw)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstDecimal(data map[string]json.RawMessage, fields ...string) (decimal.Decimal, bool) {
	for _, f := range fields {
		s := flexString(data[f])
		if s == "" {
			continue
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	s := flexString(raw)
	if s == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return fmt.Errorf("%s is required", strings.Join(fields, ", "))
	}
	return err
}

func validationError(kind models.EventKind, err error) error {
	return apperrors.Wrap(apperrors.ErrValidation, fmt.Errorf("%s: %w", kind, err))
}
