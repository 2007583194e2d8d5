package dedup

import (
	"context"
	"time"
)

//go:generate go run go.uber.org/mock/mockgen@v0.4.0 -source backend.go -destination ./mock/backend.go

// Backend stores dedup markers.
//
// TryClaim atomically inserts a marker for id unless a live one exists. Exactly one of
// several concurrent callers for the same id observes true; the others observe false
// until Release is called or the marker expires. Failing to reach the underlying store
// must be reported as a *BackendUnavailableError, never as true or false.
//
// Release removes the marker unconditionally.
type Backend interface {
	TryClaim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Disabled is used when deduplication is turned off: every claim succeeds.
type Disabled struct{}

func (Disabled) TryClaim(context.Context, string) (bool, error) { return true, nil }

func (Disabled) Release(context.Context, string) error { return nil }

var _ Backend = Disabled{}

// DefaultExpiry is used by backends constructed with a non-positive expiry.
const DefaultExpiry = time.Hour
