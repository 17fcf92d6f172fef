package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

const selectItem = `SELECT s.id, c.name, s.name, s.size, s.price, s.quantity, s.updated_at
	FROM stock s JOIN categories c ON c.id = s.category_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.CatalogItem, error) {
	var it domain.CatalogItem
	if err := row.Scan(&it.ID, &it.Category, &it.Name, &it.Size, &it.Price, &it.Quantity, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func (q *queries) listItems(ctx context.Context, op, query string, args ...any) ([]domain.CatalogItem, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return items, nil
}

// ListCategories returns every category that has at least one item, sorted by name.
func (q *queries) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT DISTINCT c.name FROM categories c
		JOIN stock s ON s.category_id = c.id ORDER BY c.name`)
	if err != nil {
		return nil, classify("list categories", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("list categories", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list categories", err)
	}
	return names, nil
}

func (q *queries) ListByCategory(ctx context.Context, category string) ([]domain.CatalogItem, error) {
	return q.listItems(ctx, "list by category",
		selectItem+` WHERE c.name = $1 ORDER BY s.name, s.size`, category)
}

// ListLowStock returns items whose quantity on hand is below threshold.
func (q *queries) ListLowStock(ctx context.Context, threshold int64) ([]domain.CatalogItem, error) {
	return q.listItems(ctx, "list low stock",
		selectItem+` WHERE s.quantity < $1 ORDER BY s.quantity, s.name, s.size`, threshold)
}

func (q *queries) GetItem(ctx context.Context, id int64) (*domain.CatalogItem, error) {
	it, err := scanItem(q.q.QueryRowContext(ctx, selectItem+` WHERE s.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get item", err)
	}
	return it, nil
}

func (q *queries) GetItemByKey(ctx context.Context, key domain.ItemKey) (*domain.CatalogItem, error) {
	it, err := scanItem(q.q.QueryRowContext(ctx,
		selectItem+` WHERE s.name = $1 AND s.size = $2`, key.Name, key.Size))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get item by key", err)
	}
	return it, nil
}

// LockItem reads an item and, on PostgreSQL, holds its row lock until the transaction ends.
func (t *Tx) LockItem(ctx context.Context, id int64) (*domain.CatalogItem, error) {
	it, err := scanItem(t.q.QueryRowContext(ctx, `SELECT s.id, c.name, s.name, s.size, s.price, s.quantity, s.updated_at
		FROM stock s JOIN categories c ON c.id = s.category_id WHERE s.id = $1`+forUpdateOf(t.d, "s"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("lock item", err)
	}
	return it, nil
}

// AdjustQuantity adds delta to the item's quantity and returns the new value.
// The update only applies when the result stays non-negative.
func (q *queries) AdjustQuantity(ctx context.Context, id, delta int64) (int64, error) {
	var quantity int64
	err := q.q.QueryRowContext(ctx, `UPDATE stock SET quantity = quantity + $1, updated_at = $2
		WHERE id = $3 AND quantity + $1 >= 0 RETURNING quantity`, delta, now(), id).Scan(&quantity)
	if err == nil {
		return quantity, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classify("adjust quantity", err)
	}

	if _, err := q.GetItem(ctx, id); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("item %d by %d: %w", id, delta, domain.ErrInsufficientStock)
}

// SetQuantity overwrites the quantity on hand. It reports false when the item does not exist.
func (q *queries) SetQuantity(ctx context.Context, key domain.ItemKey, quantity int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `UPDATE stock SET quantity = $1, updated_at = $2
		WHERE name = $3 AND size = $4`, quantity, now(), key.Name, key.Size)
	if err != nil {
		return false, classify("set quantity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("set quantity", err)
	}
	return n > 0, nil
}

// UpsertItem creates the item or replaces category, price and quantity of the existing (name, size).
func (q *queries) UpsertItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if _, err := q.q.ExecContext(ctx,
		`INSERT INTO categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, item.Category); err != nil {
		return nil, classify("upsert category", err)
	}

	var categoryID int64
	if err := q.q.QueryRowContext(ctx,
		`SELECT id FROM categories WHERE name = $1`, item.Category).Scan(&categoryID); err != nil {
		return nil, classify("upsert category", err)
	}

	var id int64
	err := q.q.QueryRowContext(ctx, `INSERT INTO stock (category_id, name, size, price, quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name, size) DO UPDATE SET
			category_id = excluded.category_id,
			price = excluded.price,
			quantity = excluded.quantity,
			updated_at = excluded.updated_at
		RETURNING id`,
		categoryID, item.Name, item.Size, item.Price, item.Quantity, now()).Scan(&id)
	if err != nil {
		return nil, classify("upsert item", err)
	}
	return q.GetItem(ctx, id)
}

// DeleteItem removes the item and returns what was deleted.
// Pending cart lines referencing it are removed with it.
func (q *queries) DeleteItem(ctx context.Context, key domain.ItemKey) (*domain.CatalogItem, error) {
	it, err := q.GetItemByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	res, err := q.q.ExecContext(ctx, `DELETE FROM stock WHERE id = $1`, it.ID)
	if err != nil {
		return nil, classify("delete item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("item %s: %w", key, domain.ErrNotFound)
	}
	return it, nil
}

func forUpdateOf(d dialect, table string) string {
	if d.forUpdate == "" {
		return ""
	}
	return d.forUpdate + " OF " + table
}
