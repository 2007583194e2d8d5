// Package natskv provides a dedup.Backend shared by all consumer instances through a
// NATS JetStream key-value bucket.
//
// KeyValue.Create is the set-if-absent primitive and the bucket TTL bounds the lifetime
// of every marker.
package natskv

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/velmie/consume/dedup"
)

// DefaultBucket is the bucket used when Config.Bucket is empty
const DefaultBucket = "consume_dedup"

var marker = []byte{'1'}

// Config contains configuration options for the NATS backend
type Config struct {
	// JetStream is used to look the bucket up or create it
	JetStream nats.JetStreamContext
	// Bucket is the key-value bucket name.
	// Default: "consume_dedup"
	Bucket string
	// Expiry becomes the bucket TTL when the bucket is created by New.
	// Default: dedup.DefaultExpiry
	Expiry time.Duration
	// Replicas of a newly created bucket
	Replicas int
}

// Backend implements dedup.Backend on top of nats.KeyValue
type Backend struct {
	kv nats.KeyValue
}

// New binds to an existing bucket or creates it with the configured TTL
func New(cfg Config) (*Backend, error) {
	if cfg.JetStream == nil {
		return nil, errors.New("NATS KV: JetStream context is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = dedup.DefaultExpiry
	}

	kv, err := cfg.JetStream.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = cfg.JetStream.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "message deduplication markers",
			History:     1,
			TTL:         cfg.Expiry,
			Replicas:    cfg.Replicas,
		})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "NATS KV: unable to bind bucket %q", cfg.Bucket)
	}

	return FromKeyValue(kv), nil
}

// FromKeyValue uses an already bound bucket; marker expiry is whatever TTL the bucket has
func FromKeyValue(kv nats.KeyValue) *Backend {
	return &Backend{kv: kv}
}

// TryClaim creates the key unless it exists
func (b *Backend) TryClaim(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, dedup.Unavailable("nats kv create", err)
	}
	_, err := b.kv.Create(encodeKey(id), marker)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return false, nil
	}
	return false, dedup.Unavailable("nats kv create", err)
}

// Release deletes the key
func (b *Backend) Release(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return dedup.Unavailable("nats kv delete", err)
	}
	if err := b.kv.Delete(encodeKey(id)); err != nil {
		return dedup.Unavailable("nats kv delete", err)
	}
	return nil
}

// message ids are arbitrary strings, NATS keys are limited to [-/_=.a-zA-Z0-9]
func encodeKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

var _ dedup.Backend = (*Backend)(nil)
