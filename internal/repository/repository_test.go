package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	// Use in-memory database for tests
	repo, err := NewRepository(&Credentials{Driver: DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations())

	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedItem(t *testing.T, repo *Repository, category, name, size string, price, qty int64) *domain.CatalogItem {
	t.Helper()
	it, err := repo.UpsertItem(context.Background(), domain.CatalogItem{
		Category: category, Name: name, Size: size, Price: price, Quantity: qty,
	})
	require.NoError(t, err)
	return it
}

func seedUser(t *testing.T, repo *Repository, externalID string, referrer *int64) *domain.User {
	t.Helper()
	u, created, err := repo.CreateUser(context.Background(), externalID, "User "+externalID, referrer)
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func TestRunMigrations_Idempotent(t *testing.T) {
	repo := setupTestDB(t)

	assert.NoError(t, repo.RunMigrations())
	assert.Equal(t, DriverSQLite, repo.Driver())
}

func TestNewRepository_UnknownDriver(t *testing.T) {
	_, err := NewRepository(&Credentials{Driver: "oracle"})
	assert.Error(t, err)
}

func TestUpsertItem_CreatesAndReplaces(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	first := seedItem(t, repo, "Coffee", "Latte", "0.3", 250, 10)
	assert.Equal(t, "Coffee", first.Category)
	assert.Equal(t, int64(10), first.Quantity)

	second := seedItem(t, repo, "Coffee", "Latte", "0.3", 300, 4)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(300), second.Price)
	assert.Equal(t, int64(4), second.Quantity)

	other := seedItem(t, repo, "Coffee", "Latte", "0.5", 350, 2)
	assert.NotEqual(t, first.ID, other.ID)

	items, err := repo.ListByCategory(ctx, "Coffee")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "0.3", items[0].Size)
	assert.Equal(t, "0.5", items[1].Size)
}

func TestListCategories_And_LowStock(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	seedItem(t, repo, "Tea", "Green", "", 150, 1)
	seedItem(t, repo, "Coffee", "Espresso", "", 200, 20)

	categories, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Coffee", "Tea"}, categories)

	low, err := repo.ListLowStock(ctx, 3)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Green", low[0].Name)

	empty, err := repo.ListByCategory(ctx, "Juice")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetItemByKey_NotFound(t *testing.T) {
	repo := setupTestDB(t)

	_, err := repo.GetItemByKey(context.Background(), domain.ItemKey{Name: "Latte", Size: "0.3"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdjustQuantity(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	it := seedItem(t, repo, "Coffee", "Latte", "0.3", 250, 2)

	qty, err := repo.AdjustQuantity(ctx, it.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty)

	_, err = repo.AdjustQuantity(ctx, it.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	qty, err = repo.AdjustQuantity(ctx, it.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), qty)

	_, err = repo.AdjustQuantity(ctx, 9999, -1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetQuantity_And_DeleteItem(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	key := domain.ItemKey{Name: "Latte", Size: "0.3"}
	seedItem(t, repo, "Coffee", key.Name, key.Size, 250, 2)

	ok, err := repo.SetQuantity(ctx, key, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetQuantity(ctx, domain.ItemKey{Name: "Mocha"}, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := repo.DeleteItem(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted.Quantity)

	_, err = repo.DeleteItem(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateUser_FirstRegistrationWins(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	first, created, err := repo.CreateUser(ctx, "tg-1", "Alice", nil)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.CreateUser(ctx, "tg-1", "Mallory", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Alice", again.Name)
}

func TestClearReferrer_OnlyOnce(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	referrer := seedUser(t, repo, "ref", nil)
	invited := seedUser(t, repo, "new", &referrer.ID)
	require.NotNil(t, invited.ReferrerID)
	assert.Equal(t, referrer.ID, *invited.InvitedBy)

	cleared, err := repo.ClearReferrer(ctx, invited.ID)
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = repo.ClearReferrer(ctx, invited.ID)
	require.NoError(t, err)
	assert.False(t, cleared)

	count, err := repo.CountReferrals(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAddCartLine_MergeKeepsPriceSnapshot(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, repo, "tg-1", nil)
	it := seedItem(t, repo, "Coffee", "Latte", "0.3", 250, 10)

	_, err := repo.AddCartLine(ctx, domain.CartLine{UserID: u.ID, ItemID: it.ID, Name: it.Name, Size: it.Size, Price: 250, Quantity: 1}, 999)
	require.NoError(t, err)

	line, err := repo.AddCartLine(ctx, domain.CartLine{UserID: u.ID, ItemID: it.ID, Name: it.Name, Size: it.Size, Price: 999, Quantity: 3}, 999)
	require.NoError(t, err)
	assert.Equal(t, int64(250), line.Price)
	assert.Equal(t, int64(4), line.Quantity)

	_, err = repo.AddCartLine(ctx, domain.CartLine{UserID: u.ID, ItemID: it.ID, Name: it.Name, Size: it.Size, Price: 250, Quantity: 996}, 999)
	assert.ErrorIs(t, err, domain.ErrQuantityExceeded)

	lines, err := repo.ListCart(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(4), lines[0].Quantity)

	n, err := repo.ClearCart(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	missing, err := repo.GetCartLine(ctx, u.ID, it.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteCartLines_KeepsOtherLines(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, repo, "tg-1", nil)
	other := seedUser(t, repo, "tg-2", nil)
	latte := seedItem(t, repo, "Coffee", "Latte", "0.3", 250, 10)
	tea := seedItem(t, repo, "Tea", "Green", "", 150, 10)

	ordered, err := repo.AddCartLine(ctx, domain.CartLine{UserID: u.ID, ItemID: latte.ID, Name: latte.Name, Size: latte.Size, Price: 250, Quantity: 1}, 999)
	require.NoError(t, err)
	_, err = repo.AddCartLine(ctx, domain.CartLine{UserID: u.ID, ItemID: tea.ID, Name: tea.Name, Price: 150, Quantity: 2}, 999)
	require.NoError(t, err)
	foreign, err := repo.AddCartLine(ctx, domain.CartLine{UserID: other.ID, ItemID: latte.ID, Name: latte.Name, Size: latte.Size, Price: 250, Quantity: 1}, 999)
	require.NoError(t, err)

	n, err := repo.DeleteCartLines(ctx, u.ID, []int64{ordered.ID, foreign.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteCartLines(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	lines, err := repo.ListCart(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, tea.ID, lines[0].ItemID)

	lines, err = repo.LockCart(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	it := seedItem(t, repo, "Coffee", "Latte", "0.3", 250, 5)
	boom := errors.New("boom")

	err := repo.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.AdjustQuantity(ctx, it.ID, -5); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := repo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), after.Quantity)
}

func TestInTx_RollsBackOnPanic(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, repo, "tg-1", nil)

	assert.Panics(t, func() {
		_ = repo.InTx(ctx, func(tx *Tx) error {
			if err := tx.SetPoints(ctx, u.ID, 500); err != nil {
				return err
			}
			panic("unexpected")
		})
	})

	after, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.Points)
}

func TestLedgerRows(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, repo, "tg-1", nil)

	err := repo.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.AppendPoints(ctx, domain.PointsEntry{UserID: u.ID, Delta: 100, Reason: domain.ReasonManual}); err != nil {
			return err
		}
		if _, err := tx.AppendPoints(ctx, domain.PointsEntry{UserID: u.ID, Delta: -40, Reason: domain.ReasonDiscount}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.AuditPointsAdjusted, &u.ID, []byte(`{"delta":60}`))
	})
	require.NoError(t, err)

	history, err := repo.PointsHistory(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ReasonManual, history[0].Reason)
	assert.Nil(t, history[0].OrderID)

	sum, err := repo.SumPoints(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), sum)

	audit, err := repo.AuditFor(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.JSONEq(t, `{"delta":60}`, string(audit[0].Details))
}

func TestOrders_CreateListFulfillSummary(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, repo, "tg-1", nil)

	var created *domain.Order
	err := repo.InTx(ctx, func(tx *Tx) error {
		var err error
		created, err = tx.CreateOrder(ctx, domain.Order{
			UserID:   u.ID,
			Items:    []domain.OrderItem{{Name: "Latte", Size: "0.3", Price: 250, Quantity: 2}},
			Subtotal: 500, Discount: 25, Total: 475, EarnedPoints: 23,
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCreated, created.Status)

	got, err := repo.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "tg-1", got.UserExternalID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(2), got.Items[0].Quantity)
	assert.Nil(t, got.FulfilledAt)

	err = repo.InTx(ctx, func(tx *Tx) error {
		ok, err := tx.MarkOrderFulfilled(ctx, created.ID, time.Now().UTC())
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	err = repo.InTx(ctx, func(tx *Tx) error {
		ok, err := tx.MarkOrderFulfilled(ctx, created.ID, time.Now().UTC())
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)

	recent, err := repo.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.OrderStatusFulfilled, recent[0].Status)
	assert.NotNil(t, recent[0].FulfilledAt)
	assert.Len(t, recent[0].Items, 1)

	mine, err := repo.OrdersForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	summary, err := repo.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AdminSummary{OrderCount: 1, Revenue: 475, UserCount: 1}, *summary)

	_, err = repo.GetOrder(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelledContext(t *testing.T) {
	repo := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.ListByCategory(ctx, "Coffee")
	assert.Error(t, err)
}
