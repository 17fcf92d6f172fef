// Package cart manages per-user pending line items.
package cart

import (
	"context"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/lock"
	"go.uber.org/zap"
)

const MaxLineQuantity = 999

type Store interface {
	GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	GetItem(ctx context.Context, id int64) (*domain.CatalogItem, error)
	GetItemByKey(ctx context.Context, key domain.ItemKey) (*domain.CatalogItem, error)
	AddCartLine(ctx context.Context, line domain.CartLine, maxQty int64) (*domain.CartLine, error)
	ListCart(ctx context.Context, userID int64) ([]domain.CartLine, error)
	ClearCart(ctx context.Context, userID int64) (int64, error)
}

type Service struct {
	store  Store
	locks  *lock.Manager
	logger *zap.Logger
}

func NewService(store Store, locks *lock.Manager, logger *zap.Logger) *Service {
	return &Service{store: store, locks: locks, logger: logger}
}

// Cart is a user's lines with their snapshot total.
type Cart struct {
	Lines []domain.CartLine `json:"lines"`
	Total int64             `json:"total"`
}

// AddLine adds qty of the item to the user's cart, merging with an existing line.
// The request is rejected when qty exceeds current stock, or when the merged
// line would exceed MaxLineQuantity.
func (s *Service) AddLine(ctx context.Context, externalID string, itemID, qty int64) (*domain.CartLine, error) {
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.add(ctx, externalID, item, qty)
}

// AddLineByKey is AddLine addressed by (name, size).
func (s *Service) AddLineByKey(ctx context.Context, externalID string, key domain.ItemKey, qty int64) (*domain.CartLine, error) {
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}
	item, err := s.store.GetItemByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.add(ctx, externalID, item, qty)
}

func (s *Service) add(ctx context.Context, externalID string, item *domain.CatalogItem, qty int64) (*domain.CartLine, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	if qty > item.Quantity {
		return nil, &domain.ItemUnavailableError{Item: item.Key(), Requested: qty, Available: item.Quantity}
	}

	release, err := s.locks.Acquire(ctx, lock.UserKey(user.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	line := domain.CartLine{
		UserID:   user.ID,
		ItemID:   item.ID,
		Name:     item.Name,
		Size:     item.Size,
		Price:    item.Price,
		Quantity: qty,
	}

	saved, err := s.store.AddCartLine(ctx, line, MaxLineQuantity)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("cart line saved",
		zap.String("user", externalID),
		zap.Int64("item_id", item.ID),
		zap.Int64("quantity", saved.Quantity))
	return saved, nil
}

func (s *Service) List(ctx context.Context, externalID string) (*Cart, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.ListCart(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &Cart{Lines: lines, Total: domain.CartTotal(lines)}, nil
}

// Clear empties the cart and returns the number of removed lines.
func (s *Service) Clear(ctx context.Context, externalID string) (int64, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return 0, err
	}

	release, err := s.locks.Acquire(ctx, lock.UserKey(user.ID))
	if err != nil {
		return 0, err
	}
	defer release()

	return s.store.ClearCart(ctx, user.ID)
}

func validateQuantity(qty int64) error {
	if qty < 1 || qty > MaxLineQuantity {
		return domain.NewValidationError("quantity", "must be between 1 and 999")
	}
	return nil
}
