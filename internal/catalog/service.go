// Package catalog serves the item catalog and its admin operations.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/cache"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/lock"
	"github.com/fjod/go_cart/shop-service/internal/notify"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultLowStockThreshold = 3

type Store interface {
	ListCategories(ctx context.Context) ([]string, error)
	ListByCategory(ctx context.Context, category string) ([]domain.CatalogItem, error)
	ListLowStock(ctx context.Context, threshold int64) ([]domain.CatalogItem, error)
	GetItem(ctx context.Context, id int64) (*domain.CatalogItem, error)
	GetItemByKey(ctx context.Context, key domain.ItemKey) (*domain.CatalogItem, error)
	InTx(ctx context.Context, fn func(tx *repository.Tx) error) error
}

type Service struct {
	store     Store
	cache     cache.CatalogCache
	sink      notify.Sink
	locks     *lock.Manager
	logger    *zap.Logger
	threshold int64
	sfg       singleflight.Group // Prevents cache stampede
}

func NewService(store Store, c cache.CatalogCache, sink notify.Sink, locks *lock.Manager, logger *zap.Logger, lowStockThreshold int64) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if lowStockThreshold <= 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &Service{
		store:     store,
		cache:     c,
		sink:      sink,
		locks:     locks,
		logger:    logger,
		threshold: lowStockThreshold,
	}
}

// LowStockThreshold is the quantity below which an item is reported as low.
func (s *Service) LowStockThreshold() int64 {
	return s.threshold
}

// ListByCategory reads through the cache. Cache errors are logged and the database is used.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]domain.CatalogItem, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, domain.NewValidationError("category", "is required")
	}

	v, err, _ := s.sfg.Do(category, func() (interface{}, error) {
		items, err := s.cache.Get(ctx, category)
		if err == nil {
			return items, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("catalog cache get failed", zap.String("category", category), zap.Error(err))
		}

		items, err = s.store.ListByCategory(ctx, category)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, category, items); err != nil {
			s.logger.Warn("catalog cache set failed", zap.String("category", category), zap.Error(err))
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CatalogItem), nil
}

func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.CatalogItem, error) {
	return s.store.GetItem(ctx, id)
}

func (s *Service) GetByKey(ctx context.Context, key domain.ItemKey) (*domain.CatalogItem, error) {
	return s.store.GetItemByKey(ctx, normalizeKey(key))
}

func (s *Service) LowStock(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.store.ListLowStock(ctx, s.threshold)
}

// AdjustQuantity adds delta to the item's stock under the item lock and returns
// the new quantity. A deduction that would go negative fails with ErrInsufficientStock.
func (s *Service) AdjustQuantity(ctx context.Context, id, delta int64) (int64, error) {
	release, err := s.locks.Acquire(ctx, lock.ItemKey(id))
	if err != nil {
		return 0, err
	}
	defer release()

	var (
		item     *domain.CatalogItem
		quantity int64
	)
	err = s.store.InTx(ctx, func(tx *repository.Tx) error {
		item, err = tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		quantity, err = tx.AdjustQuantity(ctx, id, delta)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.Invalidate(ctx, item.Category)
	if delta < 0 {
		item.Quantity = quantity
		s.NotifyIfLow(ctx, *item)
	}
	return quantity, nil
}

// SetQuantity overwrites the stock of (name, size). It reports false when no such item exists.
func (s *Service) SetQuantity(ctx context.Context, key domain.ItemKey, quantity int64) (bool, error) {
	key = normalizeKey(key)
	if err := validateKey(key); err != nil {
		return false, err
	}
	if quantity < 0 {
		return false, domain.NewValidationError("quantity", "must not be negative")
	}

	item, err := s.store.GetItemByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	release, err := s.locks.Acquire(ctx, lock.ItemKey(item.ID))
	if err != nil {
		return false, err
	}
	defer release()

	var (
		before int64
		ok     bool
	)
	err = s.store.InTx(ctx, func(tx *repository.Tx) error {
		locked, err := tx.LockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		before = locked.Quantity
		ok, err = tx.SetQuantity(ctx, key, quantity)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil || !ok {
		return ok, err
	}

	s.Invalidate(ctx, item.Category)
	if quantity < before {
		item.Quantity = quantity
		s.NotifyIfLow(ctx, *item)
	}
	return true, nil
}

// Upsert creates the item or replaces its category, price and quantity.
func (s *Service) Upsert(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	item.Category = strings.TrimSpace(item.Category)
	key := normalizeKey(item.Key())
	item.Name, item.Size = key.Name, key.Size

	if item.Category == "" {
		return nil, domain.NewValidationError("category", "is required")
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if item.Price < 0 || item.Price > domain.MaxPrice {
		return nil, domain.NewValidationError("price", fmt.Sprintf("must be between 0 and %d", domain.MaxPrice))
	}
	if item.Quantity < 0 {
		return nil, domain.NewValidationError("quantity", "must not be negative")
	}

	var previous string
	existing, err := s.store.GetItemByKey(ctx, key)
	switch {
	case err == nil:
		previous = existing.Category
		release, err := s.locks.Acquire(ctx, lock.ItemKey(existing.ID))
		if err != nil {
			return nil, err
		}
		defer release()
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	var saved *domain.CatalogItem
	err = s.store.InTx(ctx, func(tx *repository.Tx) error {
		var err error
		saved, err = tx.UpsertItem(ctx, item)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.AuditItemUpserted, nil, auditDetails(saved))
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate(ctx, previous, saved.Category)
	s.logger.Info("catalog item upserted",
		zap.Int64("item_id", saved.ID),
		zap.String("item", saved.Key().String()),
		zap.Int64("quantity", saved.Quantity))
	return saved, nil
}

// Delete removes (name, size). It reports false when no such item exists.
func (s *Service) Delete(ctx context.Context, key domain.ItemKey) (bool, error) {
	key = normalizeKey(key)
	if err := validateKey(key); err != nil {
		return false, err
	}

	existing, err := s.store.GetItemByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	release, err := s.locks.Acquire(ctx, lock.ItemKey(existing.ID))
	if err != nil {
		return false, err
	}
	defer release()

	var deleted *domain.CatalogItem
	err = s.store.InTx(ctx, func(tx *repository.Tx) error {
		var err error
		deleted, err = tx.DeleteItem(ctx, key)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.AuditItemDeleted, nil, auditDetails(deleted))
	})
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.Invalidate(ctx, deleted.Category)
	return true, nil
}

// Invalidate drops cached listings. Failures are logged only.
func (s *Service) Invalidate(ctx context.Context, categories ...string) {
	nonEmpty := categories[:0:0]
	for _, c := range categories {
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, nonEmpty...); err != nil {
		s.logger.Warn("catalog cache invalidate failed", zap.Strings("categories", nonEmpty), zap.Error(err))
	}
}

// NotifyIfLow emits LowStock when item is below the threshold. Emission failures are logged only.
func (s *Service) NotifyIfLow(ctx context.Context, item domain.CatalogItem) {
	if !item.IsLowStock(s.threshold) {
		return
	}
	event := domain.LowStock{
		ItemID:   item.ID,
		Category: item.Category,
		Name:     item.Name,
		Size:     item.Size,
		Quantity: item.Quantity,
	}
	if err := s.sink.Notify(ctx, event); err != nil {
		s.logger.Warn("low stock notification failed", zap.Int64("item_id", item.ID), zap.Error(err))
	}
}

func normalizeKey(key domain.ItemKey) domain.ItemKey {
	return domain.ItemKey{Name: strings.TrimSpace(key.Name), Size: strings.TrimSpace(key.Size)}
}

func validateKey(key domain.ItemKey) error {
	if key.Name == "" {
		return domain.NewValidationError("name", "is required")
	}
	return nil
}

func auditDetails(item *domain.CatalogItem) []byte {
	b, _ := json.Marshal(item)
	return b
}
