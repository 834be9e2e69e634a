package repository

import (
	"context"

	"github.com/brokerdesk/platform/shared/models"
	sharedredis "github.com/brokerdesk/platform/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const accountViewKeyPrefix = "account:view:"

// AccountReadRepository serves AccountViews from Redis and falls back to the
// store transparently, warming the cache on every cold read. A nil Redis
// client disables caching.
//
// Only CacheAccount overwrites a key. Cold reads fill with SETNX so a stale
// snapshot never replaces the view written after a commit.
type AccountReadRepository struct {
	store Reader
	cache *sharedredis.ViewCache[models.AccountView]
}

func NewAccountReadRepository(store Reader, redisClient *goredis.Client, log *logrus.Entry) *AccountReadRepository {
	return &AccountReadRepository{
		store: store,
		cache: sharedredis.NewViewCache[models.AccountView](redisClient, 0, log),
	}
}

// GetAccountView returns an AccountView, trying Redis first then the store.
func (r *AccountReadRepository) GetAccountView(ctx context.Context, id string) (*models.AccountView, error) {
	if view, ok := r.cache.Get(ctx, accountViewKeyPrefix+id); ok {
		return view, nil
	}

	account, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.NewAccountView(account)
	r.cache.SetIfAbsent(ctx, accountViewKeyPrefix+id, view)
	return view, nil
}

// CacheAccount refreshes the cached view. The command service calls it after
// every committed mutation.
func (r *AccountReadRepository) CacheAccount(ctx context.Context, account *models.Account) {
	r.cache.Set(ctx, accountViewKeyPrefix+account.ID, models.NewAccountView(account))
}

// InvalidateAccount drops the cached view so the next read goes to the store.
func (r *AccountReadRepository) InvalidateAccount(ctx context.Context, id string) {
	r.cache.Delete(ctx, accountViewKeyPrefix+id)
}
