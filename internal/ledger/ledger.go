// Package ledger owns every change to a points balance and the append-only audit trail.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"go.uber.org/zap"
)

// Store is the read side of the ledger.
type Store interface {
	PointsHistory(ctx context.Context, userID int64) ([]domain.PointsEntry, error)
	SumPoints(ctx context.Context, userID int64) (int64, error)
	AuditFor(ctx context.Context, userID int64) ([]domain.AuditEntry, error)
}

type Ledger struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Change is the outcome of Apply.
type Change struct {
	Applied int64
	Balance int64
	Entry   *domain.PointsEntry
}

// Apply changes the user's balance by delta inside tx and appends exactly one
// history entry. The balance is clamped at zero; the entry records the delta that
// was actually applied so the balance always equals the sum of the history.
func (l *Ledger) Apply(ctx context.Context, tx *repository.Tx, userID, delta int64, reason domain.PointsReason, orderID *int64) (*Change, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance := user.Points + delta
	if balance < 0 {
		balance = 0
	}
	applied := balance - user.Points

	if applied != 0 {
		if err := tx.SetPoints(ctx, userID, balance); err != nil {
			return nil, err
		}
	}

	entry, err := tx.AppendPoints(ctx, domain.PointsEntry{
		UserID:  userID,
		Delta:   applied,
		Reason:  reason,
		OrderID: orderID,
	})
	if err != nil {
		return nil, err
	}

	if applied != delta {
		l.logger.Info("points change clamped at zero",
			zap.Int64("user_id", userID),
			zap.Int64("requested", delta),
			zap.Int64("applied", applied),
			zap.String("reason", string(reason)))
	}

	return &Change{Applied: applied, Balance: balance, Entry: entry}, nil
}

// Audit appends an audit row inside tx. details is marshalled to JSON.
func (l *Ledger) Audit(ctx context.Context, tx *repository.Tx, action domain.AuditAction, userID *int64, details any) error {
	var payload []byte
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		payload = b
	}
	return tx.AppendAudit(ctx, action, userID, payload)
}

// HistoryFor returns the user's points history, oldest first.
func (l *Ledger) HistoryFor(ctx context.Context, userID int64) ([]domain.PointsEntry, error) {
	return l.store.PointsHistory(ctx, userID)
}

// BalanceOf recomputes a balance from the history alone.
func (l *Ledger) BalanceOf(ctx context.Context, userID int64) (int64, error) {
	return l.store.SumPoints(ctx, userID)
}

func (l *Ledger) AuditFor(ctx context.Context, userID int64) ([]domain.AuditEntry, error) {
	return l.store.AuditFor(ctx, userID)
}
