package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/shop-service/internal/domain"
)

// CatalogCache holds category listings. Implementations must be safe for concurrent use.
type CatalogCache interface {
	Get(ctx context.Context, category string) ([]domain.CatalogItem, error)
	Set(ctx context.Context, category string, items []domain.CatalogItem) error
	Delete(ctx context.Context, categories ...string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Nop is used when no cache is configured. Every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]domain.CatalogItem, error) { return nil, ErrCacheMiss }
func (Nop) Set(context.Context, string, []domain.CatalogItem) error { return nil }
func (Nop) Delete(context.Context, ...string) error { return nil }
