package domain

import "time"

type User struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Points     int64     `json:"points"`
	ReferrerID *int64    `json:"referrer_id,omitempty"`
	InvitedBy  *int64    `json:"invited_by,omitempty"`
	OrderCount int64     `json:"order_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasActiveReferrer reports whether a referral bonus is still owed for this user.
func (u User) HasActiveReferrer() bool {
	return u.ReferrerID != nil
}

type Profile struct {
	ExternalID    string `json:"external_id"`
	Name          string `json:"name"`
	Points        int64  `json:"points"`
	ReferralCount int64  `json:"referral_count"`
	OrderCount    int64  `json:"order_count"`
}
