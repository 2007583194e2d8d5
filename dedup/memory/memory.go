// Package memory provides an in-process dedup.Backend.
//
// Markers live in the memory of a single consumer process, so duplicates delivered to a
// sibling consumer instance are not detected. Use a shared backend when several
// instances read the same queue.
package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/velmie/consume/dedup"
)

const defaultCleanupInterval = time.Minute

type marker struct{}

// Backend is a dedup.Backend backed by an expiring in-memory cache
type Backend struct {
	items  *cache.Cache
	expiry time.Duration
}

// Option configures Backend
type Option func(*options)

type options struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired markers are evicted
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		o.cleanupInterval = d
	}
}

// New creates a backend whose markers expire after expiry
func New(expiry time.Duration, opts ...Option) *Backend {
	o := &options{cleanupInterval: defaultCleanupInterval}
	for _, opt := range opts {
		opt(o)
	}
	if expiry <= 0 {
		expiry = dedup.DefaultExpiry
	}
	return &Backend{
		items:  cache.New(expiry, o.cleanupInterval),
		expiry: expiry,
	}
}

// TryClaim inserts a marker for id unless a live one exists.
// cache.Add checks and sets under the cache lock, which makes the claim atomic.
func (b *Backend) TryClaim(_ context.Context, id string) (bool, error) {
	if err := b.items.Add(id, marker{}, b.expiry); err != nil {
		return false, nil
	}
	return true, nil
}

// Release removes the marker for id
func (b *Backend) Release(_ context.Context, id string) error {
	b.items.Delete(id)
	return nil
}

// Len returns the number of markers currently held, expired ones included until eviction
func (b *Backend) Len() int {
	return b.items.ItemCount()
}

var _ dedup.Backend = (*Backend)(nil)
