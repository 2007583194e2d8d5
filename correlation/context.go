package correlation

import "context"

// RetryAware is implemented by correlation contexts which track redelivery attempts
type RetryAware interface {
	SetRetries(n int)
}

type contextKey[C any] struct{}

type currentKey struct{}

type retriesKey struct{}

// NewContext returns a copy of ctx carrying the correlation context v
func NewContext[C any](ctx context.Context, v *C) context.Context {
	ctx = context.WithValue(ctx, contextKey[C]{}, v)
	return context.WithValue(ctx, currentKey{}, any(v))
}

// FromContext returns the correlation context of type C stored in ctx
func FromContext[C any](ctx context.Context) (*C, bool) {
	v, ok := ctx.Value(contextKey[C]{}).(*C)
	return v, ok && v != nil
}

// Current returns the correlation context stored in ctx without knowing its type
func Current(ctx context.Context) (any, bool) {
	v := ctx.Value(currentKey{})
	return v, v != nil
}

// WithRetries records the authoritative retry count of the delivery being processed
func WithRetries(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, retriesKey{}, n)
}

// RetriesFromContext returns the count recorded by WithRetries
func RetriesFromContext(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(retriesKey{}).(int)
	return n, ok
}
