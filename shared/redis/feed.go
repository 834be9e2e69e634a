package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Feed is a capped, newest-first JSON list per key. It backs the account
// activity feed.
type Feed[T any] struct {
	client *goredis.Client
	prefix string
	size   int64
}

func NewFeed[T any](client *goredis.Client, prefix string, size int64) *Feed[T] {
	return &Feed[T]{client: client, prefix: prefix, size: size}
}

// Push prepends item and trims the list to the configured size in a single
// pipeline.
func (f *Feed[T]) Push(ctx context.Context, key string, item T) error {
	if f == nil || f.client == nil {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal feed item: %w", err)
	}
	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, f.prefix+key, data)
	pipe.LTrim(ctx, f.prefix+key, 0, f.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push feed item: %w", err)
	}
	return nil
}

// Recent returns up to limit items, newest first. Undecodable entries are
// skipped.
func (f *Feed[T]) Recent(ctx context.Context, key string, limit int64) ([]T, error) {
	if f == nil || f.client == nil {
		return []T{}, nil
	}
	if limit <= 0 || limit > f.size {
		limit = f.size
	}
	raw, err := f.client.LRange(ctx, f.prefix+key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	items := make([]T, 0, len(raw))
	for _, r := range raw {
		var item T
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
