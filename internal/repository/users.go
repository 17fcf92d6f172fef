package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

const selectUser = `SELECT id, external_id, name, points, referrer_id, invited_by, order_count, created_at, updated_at
	FROM users`

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                   domain.User
		referrer, invitedBy sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Name, &u.Points, &referrer, &invitedBy,
		&u.OrderCount, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ReferrerID = int64Ptr(referrer)
	u.InvitedBy = int64Ptr(invitedBy)
	return &u, nil
}

// CreateUser inserts a user unless the external id is already registered.
// created is false when an existing user was returned instead.
func (q *queries) CreateUser(ctx context.Context, externalID, name string, referrerID *int64) (user *domain.User, created bool, err error) {
	ts := now()
	var id int64
	err = q.q.QueryRowContext(ctx, `INSERT INTO users (external_id, name, points, referrer_id, invited_by, order_count, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3, 0, $4, $4)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id`, externalID, name, nullableInt64(referrerID), ts).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		user, err = q.GetUserByExternalID(ctx, externalID)
		return user, false, err
	case err != nil:
		return nil, false, classify("create user", err)
	}

	user, err = q.GetUser(ctx, id)
	return user, err == nil, err
}

func (q *queries) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get user", err)
	}
	return u, nil
}

func (q *queries) GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, selectUser+` WHERE external_id = $1`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", externalID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get user by external id", err)
	}
	return u, nil
}

// LockUser reads the user row and, on PostgreSQL, holds its lock until the transaction ends.
func (t *Tx) LockUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(t.q.QueryRowContext(ctx, selectUser+` WHERE id = $1`+t.d.forUpdate, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("lock user", err)
	}
	return u, nil
}

// SetPoints overwrites the balance. Only the ledger calls it, together with a history entry.
func (t *Tx) SetPoints(ctx context.Context, id, points int64) error {
	res, err := t.q.ExecContext(ctx, `UPDATE users SET points = $1, updated_at = $2 WHERE id = $3`, points, now(), id)
	if err != nil {
		return classify("set points", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// IncrementOrderCount bumps the lifetime order count and returns the new value.
func (t *Tx) IncrementOrderCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := t.q.QueryRowContext(ctx, `UPDATE users SET order_count = order_count + 1, updated_at = $1
		WHERE id = $2 RETURNING order_count`, now(), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return 0, classify("increment order count", err)
	}
	return count, nil
}

// ClearReferrer removes the active referrer link. It reports false when the link
// was already cleared, so a referral can only be claimed once.
func (q *queries) ClearReferrer(ctx context.Context, id int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `UPDATE users SET referrer_id = NULL, updated_at = $1
		WHERE id = $2 AND referrer_id IS NOT NULL`, now(), id)
	if err != nil {
		return false, classify("clear referrer", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("clear referrer", err)
	}
	return n == 1, nil
}

// CountReferrals returns how many users registered with id as their referrer.
func (q *queries) CountReferrals(ctx context.Context, id int64) (int64, error) {
	var n int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE invited_by = $1`, id).Scan(&n); err != nil {
		return 0, classify("count referrals", err)
	}
	return n, nil
}

func (q *queries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, classify("count users", err)
	}
	return n, nil
}
