package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a BigCommerce order status id.
type OrderStatus int

const (
	OrderStatusUnknown             OrderStatus = 0
	OrderStatusPending             OrderStatus = 1
	OrderStatusShipped             OrderStatus = 2
	OrderStatusPartiallyShipped    OrderStatus = 3
	OrderStatusRefunded            OrderStatus = 4
	OrderStatusCancelled           OrderStatus = 5
	OrderStatusDeclined            OrderStatus = 6
	OrderStatusAwaitingPayment     OrderStatus = 7
	OrderStatusAwaitingPickup      OrderStatus = 8
	OrderStatusAwaitingShipment    OrderStatus = 9
	OrderStatusCompleted           OrderStatus = 10
	OrderStatusAwaitingFulfillment OrderStatus = 11
	OrderStatusManualVerification  OrderStatus = 12
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusPending:             "Pending",
	OrderStatusShipped:             "Shipped",
	OrderStatusPartiallyShipped:    "Partially Shipped",
	OrderStatusRefunded:            "Refunded",
	OrderStatusCancelled:           "Cancelled",
	OrderStatusDeclined:            "Declined",
	OrderStatusAwaitingPayment:     "Awaiting Payment",
	OrderStatusAwaitingPickup:      "Awaiting Pickup",
	OrderStatusAwaitingShipment:    "Awaiting Shipment",
	OrderStatusCompleted:           "Completed",
	OrderStatusAwaitingFulfillment: "Awaiting Fulfillment",
	OrderStatusManualVerification:  "Manual Verification Required",
}

func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Valid reports whether s is one of the platform's status ids.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// CountsAsSale is true for statuses that make an order a conversion.
func (s OrderStatus) CountsAsSale() bool {
	return s == OrderStatusShipped || s == OrderStatusPartiallyShipped || s == OrderStatusCompleted
}

// IsReversal is true for statuses that undo a sale.
func (s OrderStatus) IsReversal() bool {
	return s == OrderStatusRefunded || s == OrderStatusCancelled || s == OrderStatusDeclined
}

// ParseOrderStatusName resolves a status name such as "Completed" case-insensitively.
func ParseOrderStatusName(name string) (OrderStatus, bool) {
	name = strings.TrimSpace(name)
	for status, n := range orderStatusNames {
		if strings.EqualFold(n, name) {
			return status, true
		}
	}
	return OrderStatusUnknown, false
}

// LineItem is one product line of an order.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderPayload is the order snapshot carried by an order event.
type OrderPayload struct {
	OrderID            string          `json:"order_id" validate:"required"`
	CustomerVisitorKey string          `json:"customer_visitor_key,omitempty"`
	// TrackingCode is an affiliate code found on the order itself. It credits the sale
	// when no click falls inside the window.
	TrackingCode       string          `json:"tracking_code,omitempty"`
	OrderTotal         decimal.Decimal `json:"order_total"`
	Currency           string          `json:"currency,omitempty"`
	Status             OrderStatus     `json:"status"`
	PreviousStatus     OrderStatus     `json:"previous_status"`
	PlacedAt           *time.Time      `json:"placed_at,omitempty"`
	LineItems          []LineItem      `json:"line_items,omitempty"`
}

// BecameSale reports a transition into a sale status from a status that was not one.
func (o *OrderPayload) BecameSale() bool {
	return o.Status.CountsAsSale() && !o.PreviousStatus.CountsAsSale()
}
