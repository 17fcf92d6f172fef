package repository

import (
	"context"
	"database/sql"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

// AppendPoints writes one points history row. Rows are never updated or deleted.
func (t *Tx) AppendPoints(ctx context.Context, entry domain.PointsEntry) (*domain.PointsEntry, error) {
	entry.CreatedAt = now()
	err := t.q.QueryRowContext(ctx, `INSERT INTO points_history (user_id, delta, reason, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.UserID, entry.Delta, string(entry.Reason), nullableInt64(entry.OrderID), entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, classify("append points", err)
	}
	return &entry, nil
}

// PointsHistory returns the user's history oldest first.
func (q *queries) PointsHistory(ctx context.Context, userID int64) ([]domain.PointsEntry, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, user_id, delta, reason, order_id, created_at
		FROM points_history WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, classify("points history", err)
	}
	defer rows.Close()

	entries := make([]domain.PointsEntry, 0)
	for rows.Next() {
		var (
			e       domain.PointsEntry
			reason  string
			orderID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &reason, &orderID, &e.CreatedAt); err != nil {
			return nil, classify("points history", err)
		}
		e.Reason = domain.PointsReason(reason)
		e.OrderID = int64Ptr(orderID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("points history", err)
	}
	return entries, nil
}

// SumPoints returns the sum of all history deltas for the user.
func (q *queries) SumPoints(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := q.q.QueryRowContext(ctx,
		`SELECT CAST(COALESCE(SUM(delta), 0) AS BIGINT) FROM points_history WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		return 0, classify("sum points", err)
	}
	return sum, nil
}

// AppendAudit writes one audit row. details must be valid JSON or nil.
func (q *queries) AppendAudit(ctx context.Context, action domain.AuditAction, userID *int64, details []byte) error {
	var payload any
	if len(details) > 0 {
		payload = string(details)
	}
	_, err := q.q.ExecContext(ctx, `INSERT INTO audit_log (action, user_id, details, created_at)
		VALUES ($1, $2, $3, $4)`, string(action), nullableInt64(userID), payload, now())
	if err != nil {
		return classify("append audit", err)
	}
	return nil
}

// AuditFor returns the audit entries attached to the user, oldest first.
func (q *queries) AuditFor(ctx context.Context, userID int64) ([]domain.AuditEntry, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, action, user_id, details, created_at
		FROM audit_log WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, classify("audit for user", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var (
			e       domain.AuditEntry
			action  string
			uid     sql.NullInt64
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &action, &uid, &details, &e.CreatedAt); err != nil {
			return nil, classify("audit for user", err)
		}
		e.Action = domain.AuditAction(action)
		e.UserID = int64Ptr(uid)
		if details.Valid {
			e.Details = []byte(details.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("audit for user", err)
	}
	return entries, nil
}
