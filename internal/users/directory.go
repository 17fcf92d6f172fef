// Package users is the user and referral directory.
package users

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/ledger"
	"github.com/fjod/go_cart/shop-service/internal/lock"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"go.uber.org/zap"
)

const (
	minNameLen       = 2
	maxNameLen       = 100
	maxExternalIDLen = 128
)

// Store is what the directory needs from persistence.
type Store interface {
	GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	CountReferrals(ctx context.Context, id int64) (int64, error)
	ClearReferrer(ctx context.Context, id int64) (bool, error)
	InTx(ctx context.Context, fn func(tx *repository.Tx) error) error
}

// OrderFulfiller marks orders as fulfilled. The order engine implements it.
type OrderFulfiller interface {
	MarkFulfilled(ctx context.Context, orderID int64) (*domain.Order, error)
}

type Directory struct {
	store     Store
	ledger    *ledger.Ledger
	locks     *lock.Manager
	fulfiller OrderFulfiller
	logger    *zap.Logger

	// signupBonus is credited to a newly registered user with a valid referrer; 0 disables it.
	signupBonus int64
}

type Option func(*Directory)

func WithSignupBonus(points int64) Option {
	return func(d *Directory) { d.signupBonus = points }
}

func WithFulfiller(f OrderFulfiller) Option {
	return func(d *Directory) { d.fulfiller = f }
}

func NewDirectory(store Store, l *ledger.Ledger, locks *lock.Manager, logger *zap.Logger, opts ...Option) *Directory {
	d := &Directory{
		store:  store,
		ledger: l,
		locks:  locks,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) Get(ctx context.Context, externalID string) (*domain.User, error) {
	if err := validateExternalID(externalID); err != nil {
		return nil, err
	}
	return d.store.GetUserByExternalID(ctx, externalID)
}

// Create registers a user. Registering an existing identity returns the stored
// user unchanged with created=false. An unknown or self referrer is ignored.
func (d *Directory) Create(ctx context.Context, externalID, name, referrerExternalID string) (user *domain.User, created bool, err error) {
	if err := validateExternalID(externalID); err != nil {
		return nil, false, err
	}
	name, err = NormalizeName(name)
	if err != nil {
		return nil, false, err
	}

	err = d.store.InTx(ctx, func(tx *repository.Tx) error {
		var referrerID *int64
		if referrerExternalID != "" && referrerExternalID != externalID {
			ref, err := tx.GetUserByExternalID(ctx, referrerExternalID)
			switch {
			case err == nil:
				referrerID = &ref.ID
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
		}

		user, created, err = tx.CreateUser(ctx, externalID, name, referrerID)
		if err != nil || !created {
			return err
		}

		if err := d.ledger.Audit(ctx, tx, domain.AuditUserCreated, &user.ID, map[string]any{
			"name":     name,
			"referrer": referrerID,
		}); err != nil {
			return err
		}

		if d.signupBonus > 0 && referrerID != nil {
			change, err := d.ledger.Apply(ctx, tx, user.ID, d.signupBonus, domain.ReasonSignup, nil)
			if err != nil {
				return err
			}
			user.Points = change.Balance
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		d.logger.Info("user registered",
			zap.String("external_id", externalID),
			zap.Bool("referred", user.ReferrerID != nil))
	}
	return user, created, nil
}

// AdjustPoints applies a manual or system points change under the user's lock.
// The balance never goes below zero; the returned change holds the applied delta.
func (d *Directory) AdjustPoints(ctx context.Context, externalID string, delta int64, reason domain.PointsReason, orderID *int64) (*ledger.Change, error) {
	user, err := d.Get(ctx, externalID)
	if err != nil {
		return nil, err
	}

	release, err := d.locks.Acquire(ctx, lock.UserKey(user.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	var change *ledger.Change
	err = d.store.InTx(ctx, func(tx *repository.Tx) error {
		change, err = d.ledger.Apply(ctx, tx, user.ID, delta, reason, orderID)
		if err != nil {
			return err
		}
		return d.ledger.Audit(ctx, tx, domain.AuditPointsAdjusted, &user.ID, map[string]any{
			"requested": delta,
			"applied":   change.Applied,
			"reason":    reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// ClearReferrer drops the user's active referrer link. It reports whether a link was cleared.
func (d *Directory) ClearReferrer(ctx context.Context, externalID string) (bool, error) {
	user, err := d.Get(ctx, externalID)
	if err != nil {
		return false, err
	}
	return d.store.ClearReferrer(ctx, user.ID)
}

func (d *Directory) Profile(ctx context.Context, externalID string) (*domain.Profile, error) {
	user, err := d.Get(ctx, externalID)
	if err != nil {
		return nil, err
	}
	referrals, err := d.store.CountReferrals(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Profile{
		ExternalID:    user.ExternalID,
		Name:          user.Name,
		Points:        user.Points,
		ReferralCount: referrals,
		OrderCount:    user.OrderCount,
	}, nil
}

func (d *Directory) History(ctx context.Context, externalID string) ([]domain.PointsEntry, error) {
	user, err := d.Get(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return d.ledger.HistoryFor(ctx, user.ID)
}

// MarkOrderFulfilled hands the transition to the order engine.
func (d *Directory) MarkOrderFulfilled(ctx context.Context, orderID int64) (*domain.Order, error) {
	if d.fulfiller == nil {
		return nil, domain.NewValidationError("order", "fulfilment is not configured")
	}
	return d.fulfiller.MarkFulfilled(ctx, orderID)
}

// NormalizeName trims the display name and checks it contains only letters,
// spaces, hyphens and apostrophes.
func NormalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	n := utf8.RuneCountInString(name)
	if n < minNameLen || n > maxNameLen {
		return "", domain.NewValidationError("name", "must be between 2 and 100 characters")
	}
	for _, r := range name {
		if unicode.IsLetter(r) || r == ' ' || r == '-' || r == '\'' {
			continue
		}
		return "", domain.NewValidationError("name", "may contain only letters, spaces, hyphens and apostrophes")
	}
	return name, nil
}

func validateExternalID(externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return domain.NewValidationError("user", "identity is required")
	}
	if len(externalID) > maxExternalIDLen {
		return domain.NewValidationError("user", "identity is too long")
	}
	return nil
}
