package domain

import "time"

type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderFulfilled EventType = "order_fulfilled"
	EventLowStock       EventType = "low_stock"
	EventReferralPaid   EventType = "referral_paid"
)

// Event is anything the core hands to the notification sink.
type Event interface {
	Type() EventType
	// Key groups related events, e.g. for partitioning.
	Key() string
}

type OrderCreated struct {
	OrderID        int64       `json:"order_id"`
	UserExternalID string      `json:"user_external_id"`
	UserName       string      `json:"user_name"`
	Items          []OrderItem `json:"items"`
	Subtotal       int64       `json:"subtotal"`
	Discount       int64       `json:"discount"`
	Total          int64       `json:"total"`
	EarnedPoints   int64       `json:"earned_points"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (OrderCreated) Type() EventType { return EventOrderCreated }
func (e OrderCreated) Key() string { return e.UserExternalID }

type OrderFulfilled struct {
	OrderID        int64     `json:"order_id"`
	UserExternalID string    `json:"user_external_id"`
	FulfilledAt    time.Time `json:"fulfilled_at"`
}

func (OrderFulfilled) Type() EventType { return EventOrderFulfilled }
func (e OrderFulfilled) Key() string { return e.UserExternalID }

type LowStock struct {
	ItemID   int64  `json:"item_id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Size     string `json:"size,omitempty"`
	Quantity int64  `json:"quantity"`
}

func (LowStock) Type() EventType { return EventLowStock }
func (e LowStock) Key() string { return ItemKey{Name: e.Name, Size: e.Size}.String() }

type ReferralPaid struct {
	ReferrerExternalID string `json:"referrer_external_id"`
	ReferredExternalID string `json:"referred_external_id"`
	ReferredName       string `json:"referred_name"`
	Bonus              int64  `json:"bonus"`
	OrderID            int64  `json:"order_id"`
}

func (ReferralPaid) Type() EventType { return EventReferralPaid }
func (e ReferralPaid) Key() string { return e.ReferrerExternalID }
