package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

const selectOrder = `SELECT o.id, o.user_id, u.external_id, o.subtotal, o.discount, o.total, o.earned_points,
	o.status, o.created_at, o.fulfilled_at
	FROM orders o JOIN users u ON u.id = o.user_id`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o           domain.Order
		status      string
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.UserExternalID, &o.Subtotal, &o.Discount, &o.Total,
		&o.EarnedPoints, &status, &o.CreatedAt, &fulfilledAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if fulfilledAt.Valid {
		t := fulfilledAt.Time
		o.FulfilledAt = &t
	}
	return &o, nil
}

// CreateOrder persists the order header and its copied line items.
// ID, Status and CreatedAt are filled in on the returned order.
func (t *Tx) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	order.Status = domain.OrderStatusCreated
	order.CreatedAt = now()
	err := t.q.QueryRowContext(ctx, `INSERT INTO orders (user_id, subtotal, discount, total, earned_points, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		order.UserID, order.Subtotal, order.Discount, order.Total, order.EarnedPoints,
		string(order.Status), order.CreatedAt).Scan(&order.ID)
	if err != nil {
		return nil, classify("create order", err)
	}

	for _, item := range order.Items {
		if _, err := t.q.ExecContext(ctx, `INSERT INTO order_items (order_id, name, size, price, qty)
			VALUES ($1, $2, $3, $4, $5)`, order.ID, item.Name, item.Size, item.Price, item.Quantity); err != nil {
			return nil, classify("create order item", err)
		}
	}
	return &order, nil
}

// MarkOrderFulfilled moves a created order to fulfilled. It reports false when
// the order was not in the created state.
func (t *Tx) MarkOrderFulfilled(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE orders SET status = $1, fulfilled_at = $2
		WHERE id = $3 AND status = $4`,
		string(domain.OrderStatusFulfilled), at, id, string(domain.OrderStatusCreated))
	if err != nil {
		return false, classify("mark order fulfilled", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("mark order fulfilled", err)
	}
	return n == 1, nil
}

func (q *queries) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := scanOrder(q.q.QueryRowContext(ctx, selectOrder+` WHERE o.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get order", err)
	}
	if o.Items, err = q.orderItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// RecentOrders returns up to limit orders, newest first.
func (q *queries) RecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return q.listOrders(ctx, "recent orders", selectOrder+` ORDER BY o.id DESC LIMIT $1`, limit)
}

// OrdersForUser returns the user's orders, newest first.
func (q *queries) OrdersForUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	return q.listOrders(ctx, "orders for user", selectOrder+` WHERE o.user_id = $1 ORDER BY o.id DESC`, userID)
}

func (q *queries) listOrders(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, classify(op, err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify(op, err)
	}
	// Items are loaded after the cursor is closed; SQLite runs on one connection.
	rows.Close()

	for i := range orders {
		if orders[i].Items, err = q.orderItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (q *queries) orderItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT name, size, price, qty FROM order_items
		WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, classify("order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.Name, &it.Size, &it.Price, &it.Quantity); err != nil {
			return nil, classify("order items", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("order items", err)
	}
	return items, nil
}

// Summary aggregates order count, revenue and user count.
func (q *queries) Summary(ctx context.Context) (*domain.AdminSummary, error) {
	var s domain.AdminSummary
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*), CAST(COALESCE(SUM(total), 0) AS BIGINT) FROM orders`).
		Scan(&s.OrderCount, &s.Revenue)
	if err != nil {
		return nil, classify("summary", err)
	}
	if s.UserCount, err = q.CountUsers(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}
