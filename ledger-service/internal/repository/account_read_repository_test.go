package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brokerdesk/platform/shared/models"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interleavedReader runs afterRead once, between the store read and the
// cache fill of a cold GetAccountView.
type interleavedReader struct {
	*MemoryStore
	afterRead func()
}

func (r *interleavedReader) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := r.MemoryStore.GetAccount(ctx, id)
	if r.afterRead != nil {
		hook := r.afterRead
		r.afterRead = nil
		hook()
	}
	return account, err
}

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestAccountReadRepositoryColdReadFillsCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedAccount(t, store, "acc-1", "a@example.com", 25)
	client := newTestRedis(t)
	repo := NewAccountReadRepository(store, client, nil)

	view, err := repo.GetAccountView(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(25)))

	exists, err := client.Exists(ctx, accountViewKeyPrefix+"acc-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestAccountReadRepositoryStaleFillDoesNotOverwriteCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedAccount(t, store, "acc-1", "a@example.com", 0)
	client := newTestRedis(t)

	reader := &interleavedReader{MemoryStore: store}
	repo := NewAccountReadRepository(reader, client, nil)

	// A commit lands after the reader loaded its snapshot but before it
	// warmed the cache.
	reader.afterRead = func() {
		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.AdjustBalance(ctx, "acc-1", decimal.NewFromInt(100))
			return err
		}))
		committed, err := store.GetAccount(ctx, "acc-1")
		require.NoError(t, err)
		repo.CacheAccount(ctx, committed)
	}

	stale, err := repo.GetAccountView(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, stale.Balance.IsZero(), "the racing reader still sees its own snapshot")

	view, err := repo.GetAccountView(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(100)), "got %s", view.Balance)
}

func TestAccountReadRepositoryInvalidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedAccount(t, store, "acc-1", "a@example.com", 10)
	client := newTestRedis(t)
	repo := NewAccountReadRepository(store, client, nil)

	stale := &models.Account{ID: "acc-1", Email: "a@example.com", Balance: decimal.NewFromInt(999)}
	repo.CacheAccount(ctx, stale)
	repo.InvalidateAccount(ctx, "acc-1")

	view, err := repo.GetAccountView(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(10)), "got %s", view.Balance)
}

func TestAccountReadRepositoryWithoutRedis(t *testing.T) {
	store := NewMemoryStore()
	seedAccount(t, store, "acc-1", "a@example.com", 5)
	repo := NewAccountReadRepository(store, nil, nil)

	view, err := repo.GetAccountView(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(5)))
}
