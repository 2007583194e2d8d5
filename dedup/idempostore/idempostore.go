// Package idempostore adapts a github.com/velmie/idempo Store to dedup.Backend,
// so stores already deployed for request idempotency can hold message markers too.
package idempostore

import (
	"context"
	"errors"
	"time"

	"github.com/velmie/idempo"

	"github.com/velmie/consume/dedup"
)

const operation = "consume"

// Backend implements dedup.Backend over an idempo.Store
type Backend struct {
	store  idempo.Store
	expiry time.Duration
}

// New creates the adapter; markers are created with the given expiry
func New(store idempo.Store, expiry time.Duration) *Backend {
	if store == nil {
		panic("consume/idempostore: nil store")
	}
	if expiry <= 0 {
		expiry = dedup.DefaultExpiry
	}
	return &Backend{store: store, expiry: expiry}
}

// TryClaim creates the entry; an existing entry means the id is claimed
func (b *Backend) TryClaim(ctx context.Context, id string) (bool, error) {
	_, created, err := b.store.Create(ctx, id, idempo.Fingerprint{Operation: operation}, b.expiry)
	if err != nil {
		return false, dedup.Unavailable("idempo create", err)
	}
	return created, nil
}

// Release deletes the entry using the token it was created with
func (b *Backend) Release(ctx context.Context, id string) error {
	entry, err := b.store.Get(ctx, id)
	if errors.Is(err, idempo.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return dedup.Unavailable("idempo get", err)
	}
	if err := b.store.Delete(ctx, id, entry.Token); err != nil && !errors.Is(err, idempo.ErrKeyNotFound) {
		return dedup.Unavailable("idempo delete", err)
	}
	return nil
}

var _ dedup.Backend = (*Backend)(nil)
