// Package cache holds the materialized first page of a conversation's
// messages. Entries are a disposable, derived view: populated lazily on
// read miss, deleted (never updated in place) on any write touching the
// conversation's messages, and expired by TTL otherwise.
package cache

import (
	"context"
	"time"
)

// PageTTL bounds how long a cached page may outlive the store.
const PageTTL = 60 * time.Second

// PageCache is the cache-aside contract the orchestrators depend on.
// RedisCache is the production implementation; Null disables caching.
type PageCache interface {
	// GetPage returns the cached serialized page for a conversation.
	// The second return value reports whether an entry was present.
	GetPage(ctx context.Context, convID string) ([]byte, bool, error)
	// PutPage stores a serialized page with the given TTL.
	PutPage(ctx context.Context, convID string, page []byte, ttl time.Duration) error
	// Invalidate deletes a conversation's cached page. Deleting an absent
	// entry succeeds.
	Invalidate(ctx context.Context, convID string) error
}

// Null is a PageCache that caches nothing. It stands in when no Redis URL
// is configured in development.
type Null struct{}

func (Null) GetPage(ctx context.Context, convID string) ([]byte, bool, error) {
	return nil, false, nil
}

func (Null) PutPage(ctx context.Context, convID string, page []byte, ttl time.Duration) error {
	return nil
}

func (Null) Invalidate(ctx context.Context, convID string) error {
	return nil
}
