//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Repository {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("shop"),
		postgres.WithPassword("shop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	repo, err := NewRepository(&Credentials{
		Driver:      DriverPostgres,
		Host:        host,
		Port:        port.Int(),
		User:        "shop",
		Password:    "shop",
		DBName:      "shop",
		LockTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations())

	t.Cleanup(func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})
	return repo
}

func TestPostgres_ConditionalDeductionNeverOversells(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	it, err := repo.UpsertItem(ctx, domain.CatalogItem{Category: "Coffee", Name: "Latte", Size: "0.3", Price: 250, Quantity: 5})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.InTx(ctx, func(tx *Tx) error {
				if _, err := tx.LockItem(ctx, it.ID); err != nil {
					return err
				}
				_, err := tx.AdjustQuantity(ctx, it.ID, -1)
				return err
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	after, err := repo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.Quantity)
}

func TestPostgres_UsersAndLedger(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	ref, _, err := repo.CreateUser(ctx, "ref", "Referrer", nil)
	require.NoError(t, err)
	u, created, err := repo.CreateUser(ctx, "new", "Newcomer", &ref.ID)
	require.NoError(t, err)
	require.True(t, created)

	err = repo.InTx(ctx, func(tx *Tx) error {
		locked, err := tx.LockUser(ctx, u.ID)
		if err != nil {
			return err
		}
		if err := tx.SetPoints(ctx, locked.ID, 40); err != nil {
			return err
		}
		if _, err := tx.AppendPoints(ctx, domain.PointsEntry{UserID: u.ID, Delta: 40, Reason: domain.ReasonManual}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.AuditPointsAdjusted, &u.ID, []byte(`{"delta":40}`))
	})
	require.NoError(t, err)

	sum, err := repo.SumPoints(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), sum)

	audit, err := repo.AuditFor(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.JSONEq(t, `{"delta":40}`, string(audit[0].Details))

	cleared, err := repo.ClearReferrer(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, cleared)
	cleared, err = repo.ClearReferrer(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, cleared)
}
