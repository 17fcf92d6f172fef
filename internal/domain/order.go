package domain

import "time"

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusFulfilled OrderStatus = "fulfilled"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFulfilled
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether an order may move from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusCreated && next == OrderStatusFulfilled
}

// OrderItem is a copy of a cart line taken at checkout. It never references the catalog.
type OrderItem struct {
	Name     string `json:"name"`
	Size     string `json:"size,omitempty"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type Order struct {
	ID             int64       `json:"id"`
	UserID         int64       `json:"user_id"`
	UserExternalID string      `json:"user_external_id,omitempty"`
	Items          []OrderItem `json:"items"`
	Subtotal       int64       `json:"subtotal"`
	Discount       int64       `json:"discount"`
	Total          int64       `json:"total"`
	EarnedPoints   int64       `json:"earned_points"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	FulfilledAt    *time.Time  `json:"fulfilled_at,omitempty"`
}

// CheckoutResult is returned for a committed checkout.
type CheckoutResult struct {
	OrderID      int64 `json:"order_id"`
	Subtotal     int64 `json:"subtotal"`
	Discount     int64 `json:"discount"`
	Total        int64 `json:"total"`
	EarnedPoints int64 `json:"earned_points"`
	ReferralPaid bool  `json:"referral_paid"`
}

// AdminSummary aggregates store-wide counters for the operator.
type AdminSummary struct {
	OrderCount int64 `json:"order_count"`
	Revenue    int64 `json:"revenue"`
	UserCount  int64 `json:"user_count"`
}
