package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, time.Minute), mr
}

func TestSetThenGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	items := []domain.CatalogItem{
		{ID: 1, Category: "Coffee", Name: "Latte", Size: "0.3", Price: 250, Quantity: 4},
		{ID: 2, Category: "Coffee", Name: "Espresso", Price: 150, Quantity: 9},
	}
	require.NoError(t, c.Set(ctx, "Coffee", items))

	ttl := mr.TTL(cacheKey("Coffee"))
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+12*time.Second)

	got, err := c.Get(ctx, "Coffee")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Latte", got[0].Name)
	assert.Equal(t, "0.3", got[0].Size)
}

func TestGet_CacheMiss(t *testing.T) {
	c, _ := setupTestRedis(t)

	got, err := c.Get(context.Background(), "Tea")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestGet_InvalidJSON(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("Coffee"), "{not json"))

	_, err := c.Get(context.Background(), "Coffee")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestDelete_ManyCategories(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "Coffee", nil))
	require.NoError(t, c.Set(ctx, "Tea", nil))

	require.NoError(t, c.Delete(ctx, "Coffee", "Tea", "Juice"))
	assert.False(t, mr.Exists(cacheKey("Coffee")))
	assert.False(t, mr.Exists(cacheKey("Tea")))

	assert.NoError(t, c.Delete(ctx))
}

func TestGet_ServerDown(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), "Coffee")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}
