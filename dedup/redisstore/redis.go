// Package redisstore provides a dedup.Backend shared by all consumer instances through Redis.
//
// A claim is a single SET key 1 NX EX ttl round trip and a release is a DEL, so no
// read-modify-write sequence is ever issued against the shared store.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velmie/consume/dedup"
)

// DefaultKeyPrefix namespaces dedup markers inside a shared Redis database
const DefaultKeyPrefix = "consume:dedup:"

const markerValue = "1"

// Client is the subset of redis.Cmdable used by the backend.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config contains configuration options for the Redis backend
type Config struct {
	// Client is the Redis client instance
	Client Client
	// KeyPrefix is the prefix for all Redis keys.
	// Default: "consume:dedup:"
	KeyPrefix string
	// Expiry is the lifetime of a marker.
	// Default: dedup.DefaultExpiry
	Expiry time.Duration
}

// Backend implements dedup.Backend using Redis
type Backend struct {
	client    Client
	keyPrefix string
	expiry    time.Duration
}

// New creates a new Redis backed dedup.Backend
func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = dedup.DefaultExpiry
	}
	return &Backend{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		expiry:    cfg.Expiry,
	}, nil
}

// TryClaim sets the marker unless the key already exists
func (b *Backend) TryClaim(ctx context.Context, id string) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.key(id), markerValue, b.expiry).Result()
	if err != nil {
		return false, dedup.Unavailable("redis setnx", err)
	}
	return ok, nil
}

// Release deletes the marker
func (b *Backend) Release(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return dedup.Unavailable("redis del", err)
	}
	return nil
}

func (b *Backend) key(id string) string {
	return b.keyPrefix + id
}

var _ dedup.Backend = (*Backend)(nil)
