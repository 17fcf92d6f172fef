package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

func (q *queries) ListCart(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	return q.listCart(ctx, "list cart", `SELECT id, user_id, stock_id, name, size, price, qty, added_at
		FROM cart WHERE user_id = $1 ORDER BY id`, userID)
}

func (q *queries) listCart(ctx context.Context, op, query string, args ...any) ([]domain.CartLine, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.UserID, &l.ItemID, &l.Name, &l.Size, &l.Price, &l.Quantity, &l.AddedAt); err != nil {
			return nil, classify(op, err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return lines, nil
}

// GetCartLine returns nil without error when the user has no line for the item.
func (q *queries) GetCartLine(ctx context.Context, userID, itemID int64) (*domain.CartLine, error) {
	var l domain.CartLine
	err := q.q.QueryRowContext(ctx, `SELECT id, user_id, stock_id, name, size, price, qty, added_at
		FROM cart WHERE user_id = $1 AND stock_id = $2`, userID, itemID).
		Scan(&l.ID, &l.UserID, &l.ItemID, &l.Name, &l.Size, &l.Price, &l.Quantity, &l.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get cart line", err)
	}
	return &l, nil
}

// AddCartLine inserts the line or adds its quantity to the existing (user, item)
// line in one statement. An existing line keeps its original price and name
// snapshot. When the merged quantity would exceed maxQty nothing is written and
// domain.ErrQuantityExceeded is returned.
func (q *queries) AddCartLine(ctx context.Context, line domain.CartLine, maxQty int64) (*domain.CartLine, error) {
	err := q.q.QueryRowContext(ctx, `INSERT INTO cart (user_id, stock_id, name, size, price, qty, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, stock_id) DO UPDATE SET qty = cart.qty + excluded.qty
		WHERE cart.qty + excluded.qty <= $8
		RETURNING id, name, size, price, qty, added_at`,
		line.UserID, line.ItemID, line.Name, line.Size, line.Price, line.Quantity, now(), maxQty).
		Scan(&line.ID, &line.Name, &line.Size, &line.Price, &line.Quantity, &line.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d item %d: %w", line.UserID, line.ItemID, domain.ErrQuantityExceeded)
	}
	if err != nil {
		return nil, classify("add cart line", err)
	}
	return &line, nil
}

// LockCart is ListCart that also row-locks the lines on PostgreSQL until the
// surrounding transaction ends.
func (q *queries) LockCart(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	return q.listCart(ctx, "lock cart", `SELECT id, user_id, stock_id, name, size, price, qty, added_at
		FROM cart WHERE user_id = $1 ORDER BY id`+q.d.forUpdate, userID)
}

// DeleteCartLines removes the given lines of the user's cart. Lines added
// meanwhile are left alone.
func (q *queries) DeleteCartLines(ctx context.Context, userID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	placeholders := make([]string, 0, len(ids))
	for i, id := range ids {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
	}
	res, err := q.q.ExecContext(ctx, `DELETE FROM cart WHERE user_id = $1 AND id IN (`+
		strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return 0, classify("delete cart lines", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("delete cart lines", err)
	}
	return n, nil
}

// ClearCart removes every line of the user's cart and returns how many were removed.
func (q *queries) ClearCart(ctx context.Context, userID int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM cart WHERE user_id = $1`, userID)
	if err != nil {
		return 0, classify("clear cart", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("clear cart", err)
	}
	return n, nil
}
