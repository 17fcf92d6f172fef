package domain

import (
	"encoding/json"
	"time"
)

type PointsReason string

const (
	ReasonDiscount PointsReason = "discount"
	ReasonReferral PointsReason = "referral"
	ReasonEarned   PointsReason = "earned"
	ReasonManual   PointsReason = "manual"
	ReasonSignup   PointsReason = "signup"
)

// PointsEntry is one append-only row of a user's points history.
// Delta is the change actually applied to the balance.
type PointsEntry struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	Delta     int64        `json:"delta"`
	Reason    PointsReason `json:"reason"`
	OrderID   *int64       `json:"order_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type AuditAction string

const (
	AuditUserCreated    AuditAction = "user_created"
	AuditOrderCreated   AuditAction = "order_created"
	AuditReferralPaid   AuditAction = "referral_paid"
	AuditOrderFulfilled AuditAction = "order_fulfilled"
	AuditPointsAdjusted AuditAction = "points_adjusted"
	AuditItemUpserted   AuditAction = "item_upserted"
	AuditItemDeleted    AuditAction = "item_deleted"
)

type AuditEntry struct {
	ID        int64           `json:"id"`
	Action    AuditAction     `json:"action"`
	UserID    *int64          `json:"user_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
