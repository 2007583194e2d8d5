// Package retry makes the redelivery attempt counter of a message available to the code
// handling it.
package retry

import (
	"context"

	"github.com/velmie/consume"
	"github.com/velmie/consume/correlation"
)

// Counter is implemented by events whose transport tracks redelivery attempts itself
type Counter interface {
	Retries() int
}

// CountFunc returns the retry count of the event; ok is false when the event carries none
type CountFunc func(event consume.Event) (n int, ok bool)

// DefaultCount prefers the transport counter and falls back to the Retry-Count header.
// An unparsable header is treated as no retry information.
func DefaultCount(event consume.Event) (int, bool) {
	if c, ok := event.(Counter); ok {
		return c.Retries(), true
	}
	n, ok := event.Message().Header.GetRetryCount()
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

type options struct {
	count  CountFunc
	logger consume.Logger
}

// Option configures Middleware
type Option func(*options)

// WithCountFunc replaces DefaultCount
func WithCountFunc(fn CountFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.count = fn
		}
	}
}

// WithLogger sets the logger
func WithLogger(l consume.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Middleware records the retry count of every delivery in its processing unit.
// Deliveries without retry information count as first attempts (0).
// An ambient correlation context already present and implementing
// correlation.RetryAware is updated in place.
func Middleware(opts ...Option) consume.Middleware {
	o := &options{count: DefaultCount, logger: consume.NopLogger{}}
	for _, opt := range opts {
		opt(o)
	}

	return func(next consume.Handler) consume.Handler {
		return func(event consume.Event) error {
			n, ok := o.count(event)
			if !ok {
				n = 0
			}
			msg := event.Message()
			parent := msg.Context()

			if current, ok := correlation.Current(parent); ok {
				if aware, ok := current.(correlation.RetryAware); ok {
					aware.SetRetries(n)
				}
			}
			if n > 0 {
				o.logger.Debug("processing redelivered message", "messageId", msg.ID, "topic", event.Topic(), "retries", n)
			}

			msg.SetContext(NewContext(parent, n))
			defer msg.SetContext(parent)

			return next(event)
		}
	}
}

// NewContext returns a copy of ctx carrying the retry count
func NewContext(ctx context.Context, n int) context.Context {
	return correlation.WithRetries(ctx, n)
}

// FromContext returns the retry count recorded by Middleware
func FromContext(ctx context.Context) (int, bool) {
	return correlation.RetriesFromContext(ctx)
}

// Later republishes a failed message to topic with the Retry-Count header incremented.
// The message id and the rest of the header are preserved, so the deduplication gate
// sees the redelivery as the same message.
func Later(pub consume.Publisher, topic string, msg *consume.Message) error {
	out := &consume.Message{
		ID:     msg.ID,
		Header: msg.Header.Clone(),
		Body:   msg.Body,
	}
	out.SetContext(msg.Context())

	n, _ := out.Header.GetRetryCount()
	out.Header.SetRetryCount(n + 1)
	consume.SetIDHeader(out)
	return pub.Publish(topic, out)
}
