package order

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"go.uber.org/zap"
)

// MarkFulfilled moves a created order to fulfilled exactly once and tells the customer.
func (e *Engine) MarkFulfilled(ctx context.Context, orderID int64) (*domain.Order, error) {
	at := time.Now().UTC()
	err := e.store.InTx(ctx, func(tx *repository.Tx) error {
		ok, err := tx.MarkOrderFulfilled(ctx, orderID, at)
		if err != nil {
			return err
		}
		if !ok {
			current, err := tx.GetOrder(ctx, orderID)
			if err != nil {
				return err
			}
			return fmt.Errorf("order %d is %s: %w", orderID, current.Status, domain.ErrIllegalTransition)
		}

		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		return e.ledger.Audit(ctx, tx, domain.AuditOrderFulfilled, &o.UserID, map[string]any{
			"order_id": orderID,
		})
	})
	if err != nil {
		return nil, err
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("order fulfilled", zap.Int64("order_id", orderID))
	e.emit(ctx, domain.OrderFulfilled{
		OrderID:        o.ID,
		UserExternalID: o.UserExternalID,
		FulfilledAt:    at,
	})
	return o, nil
}

// RecentOrders returns the newest orders. limit is clamped to [1, MaxRecentLimit].
func (e *Engine) RecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return e.store.RecentOrders(ctx, limit)
}

func (e *Engine) OrdersFor(ctx context.Context, externalID string) ([]domain.Order, error) {
	user, err := e.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return e.store.OrdersForUser(ctx, user.ID)
}

func (e *Engine) Summary(ctx context.Context) (*domain.AdminSummary, error) {
	return e.store.Summary(ctx)
}
