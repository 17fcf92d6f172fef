package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/shop-service/internal/cache"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/lock"
	"github.com/fjod/go_cart/shop-service/internal/notify"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc    *Service
	repo   *repository.Repository
	mr     *miniredis.Miniredis
	events *notify.Recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	repo, err := repository.NewRepository(&repository.Credentials{Driver: repository.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations())
	t.Cleanup(func() { _ = repo.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	events := &notify.Recorder{}
	svc := NewService(repo, cache.NewRedisCache(client, time.Minute), events, lock.NewManager(time.Second), zap.NewNop(), 0)
	return &fixture{svc: svc, repo: repo, mr: mr, events: events}
}

func (f *fixture) upsert(t *testing.T, category, name, size string, qty int64) *domain.CatalogItem {
	t.Helper()
	item, err := f.svc.Upsert(context.Background(), domain.CatalogItem{
		Category: category, Name: name, Size: size, Price: 100, Quantity: qty,
	})
	require.NoError(t, err)
	return item
}

func TestListByCategory_ReadsThroughCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.upsert(t, "Coffee", "Latte", "0.3", 10)

	items, err := f.svc.ListByCategory(ctx, "Coffee")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, f.mr.Exists("catalog:Coffee"))

	// A direct store write is invisible until the category is invalidated.
	_, err = f.repo.SetQuantity(ctx, domain.ItemKey{Name: "Latte", Size: "0.3"}, 7)
	require.NoError(t, err)
	items, err = f.svc.ListByCategory(ctx, "Coffee")
	require.NoError(t, err)
	assert.Equal(t, int64(10), items[0].Quantity)

	f.svc.Invalidate(ctx, "Coffee")
	items, err = f.svc.ListByCategory(ctx, "Coffee")
	require.NoError(t, err)
	assert.Equal(t, int64(7), items[0].Quantity)
}

func TestListByCategory_CacheDownFallsBack(t *testing.T) {
	f := setup(t)
	f.upsert(t, "Coffee", "Latte", "0.3", 10)
	f.mr.Close()

	items, err := f.svc.ListByCategory(context.Background(), "Coffee")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestListByCategory_RequiresCategory(t *testing.T) {
	f := setup(t)
	_, err := f.svc.ListByCategory(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMutationsInvalidateCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	item := f.upsert(t, "Coffee", "Latte", "0.3", 10)

	prime := func() {
		_, err := f.svc.ListByCategory(ctx, "Coffee")
		require.NoError(t, err)
		require.True(t, f.mr.Exists("catalog:Coffee"))
	}

	prime()
	_, err := f.svc.AdjustQuantity(ctx, item.ID, -1)
	require.NoError(t, err)
	assert.False(t, f.mr.Exists("catalog:Coffee"))

	prime()
	_, err = f.svc.SetQuantity(ctx, item.Key(), 20)
	require.NoError(t, err)
	assert.False(t, f.mr.Exists("catalog:Coffee"))

	prime()
	_, err = f.svc.ListByCategory(ctx, "Tea")
	require.NoError(t, err)
	f.upsert(t, "Tea", "Latte", "0.3", 20)
	assert.False(t, f.mr.Exists("catalog:Coffee"), "old category")
	assert.False(t, f.mr.Exists("catalog:Tea"), "new category")

	_, err = f.svc.ListByCategory(ctx, "Tea")
	require.NoError(t, err)
	deleted, err := f.svc.Delete(ctx, item.Key())
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, f.mr.Exists("catalog:Tea"))
}

func TestAdjustQuantity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	item := f.upsert(t, "Coffee", "Latte", "0.3", 4)

	qty, err := f.svc.AdjustQuantity(ctx, item.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), qty)
	assert.Empty(t, f.events.Events(), "3 is not below the threshold")

	qty, err = f.svc.AdjustQuantity(ctx, item.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), qty)
	low := f.events.OfType(domain.EventLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, int64(2), low[0].(domain.LowStock).Quantity)

	_, err = f.svc.AdjustQuantity(ctx, item.ID, -3)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = f.svc.AdjustQuantity(ctx, item.ID, 5)
	require.NoError(t, err)
	assert.Len(t, f.events.OfType(domain.EventLowStock), 1, "restock does not notify")

	_, err = f.svc.AdjustQuantity(ctx, 404, -1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdjustQuantity_NotificationFailureIsIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	item := f.upsert(t, "Coffee", "Latte", "0.3", 1)
	f.events.Err = errors.New("sink down")

	qty, err := f.svc.AdjustQuantity(ctx, item.ID, -1)
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestSetQuantity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.upsert(t, "Coffee", "Latte", "0.3", 10)

	ok, err := f.svc.SetQuantity(ctx, domain.ItemKey{Name: " Latte ", Size: "0.3"}, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, f.events.OfType(domain.EventLowStock), 1)

	ok, err = f.svc.SetQuantity(ctx, domain.ItemKey{Name: "Mocha"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.SetQuantity(ctx, domain.ItemKey{Name: "Latte", Size: "0.3"}, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpsert_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []domain.CatalogItem{
		{Name: "Latte", Price: 1},
		{Category: "Coffee", Price: 1},
		{Category: "Coffee", Name: "Latte", Price: -1},
		{Category: "Coffee", Name: "Latte", Price: domain.MaxPrice + 1},
		{Category: "Coffee", Name: "Latte", Quantity: -1},
	}
	for _, item := range tests {
		_, err := f.svc.Upsert(ctx, item)
		assert.ErrorIs(t, err, domain.ErrValidation, "%+v", item)
	}
}

func TestUpsert_ReplacesAndAudits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first := f.upsert(t, "Coffee", "Latte", "0.3", 10)
	second := f.upsert(t, "Coffee", "Latte", "0.3", 2)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.Quantity)

	got, err := f.svc.GetByKey(ctx, domain.ItemKey{Name: "Latte", Size: "0.3"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Quantity)

	low, err := f.svc.LowStock(ctx)
	require.NoError(t, err)
	assert.Len(t, low, 1)

	categories, err := f.svc.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Coffee"}, categories)
}

func TestDelete_Unknown(t *testing.T) {
	f := setup(t)
	deleted, err := f.svc.Delete(context.Background(), domain.ItemKey{Name: "Mocha"})
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUpsert_MaxPriceCartTotalFits(t *testing.T) {
	f := setup(t)
	item, err := f.svc.Upsert(context.Background(), domain.CatalogItem{
		Category: "Coffee", Name: "Kopi Luwak", Price: domain.MaxPrice, Quantity: 1,
	})
	require.NoError(t, err)

	lines := make([]domain.CartLine, 1000)
	for i := range lines {
		lines[i] = domain.CartLine{ItemID: item.ID, Price: item.Price, Quantity: 999}
	}
	assert.Equal(t, int64(999)*1000*domain.MaxPrice, domain.CartTotal(lines))
}
