package correlation

import (
	"context"
	"fmt"
	"strings"

	"github.com/velmie/consume"
)

// DecodeErrorPolicy defines what happens to a delivery whose context header cannot be decoded
type DecodeErrorPolicy int

const (
	// DecodeFailDelivery returns the *DecodeError, the handler does not run
	DecodeFailDelivery DecodeErrorPolicy = iota
	// DecodeUseDefault logs a warning and runs the handler with a default context
	DecodeUseDefault
)

// ParseDecodeErrorPolicy maps configuration values ("fail", "default") to a policy
func ParseDecodeErrorPolicy(s string) (DecodeErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail", "fail-delivery":
		return DecodeFailDelivery, nil
	case "default", "use-default":
		return DecodeUseDefault, nil
	}
	return DecodeFailDelivery, fmt.Errorf("correlation: unknown decode error policy %q", s)
}

func (p DecodeErrorPolicy) String() string {
	if p == DecodeUseDefault {
		return "use-default"
	}
	return "fail-delivery"
}

type middlewareOptions struct {
	policy               DecodeErrorPolicy
	includeCorrelationID bool
	logger               consume.Logger
}

// Option configures Middleware
type Option func(*middlewareOptions)

// WithDecodeErrorPolicy sets the decode error policy
func WithDecodeErrorPolicy(p DecodeErrorPolicy) Option {
	return func(o *middlewareOptions) {
		o.policy = p
	}
}

// WithIncludeCorrelationID copies the Correlation-Id header into contexts implementing
// consume.CorrelationIDAware
func WithIncludeCorrelationID(include bool) Option {
	return func(o *middlewareOptions) {
		o.includeCorrelationID = include
	}
}

// WithLogger sets the logger
func WithLogger(l consume.Logger) Option {
	return func(o *middlewareOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Middleware decodes the context header of every delivery and stores the result in the
// processing unit of the message for the duration of the handler call.
//
// A missing header yields the zero value of C. A retry count recorded earlier in the
// chain by WithRetries overrides whatever count the header carried.
func Middleware[C any](codec *Codec[C], opts ...Option) consume.Middleware {
	o := &middlewareOptions{logger: consume.NopLogger{}}
	for _, opt := range opts {
		opt(o)
	}

	return func(next consume.Handler) consume.Handler {
		return func(event consume.Event) error {
			msg := event.Message()
			parent := msg.Context()

			c, err := extract(codec, event, o)
			if err != nil {
				return err
			}
			if o.includeCorrelationID {
				if id := msg.Header.GetCorrelationID(); id != "" {
					if aware, ok := any(c).(consume.CorrelationIDAware); ok {
						aware.SetCorrelationID(id)
					}
				}
			}
			if n, ok := RetriesFromContext(parent); ok {
				if aware, ok := any(c).(RetryAware); ok {
					aware.SetRetries(n)
				}
			}

			msg.SetContext(NewContext(parent, c))
			defer msg.SetContext(parent)

			return next(event)
		}
	}
}

func extract[C any](codec *Codec[C], event consume.Event, o *middlewareOptions) (*C, error) {
	c, found, err := codec.Extract(event.Message().Header)
	if err != nil {
		if o.policy == DecodeFailDelivery {
			o.logger.Error(
				"unable to decode message context",
				"messageId", event.Message().ID,
				"topic", event.Topic(),
				"error", err.Error(),
			)
			return nil, err
		}
		o.logger.Warn(
			"unable to decode message context, using default",
			"messageId", event.Message().ID,
			"topic", event.Topic(),
			"error", err.Error(),
		)
		return new(C), nil
	}
	if !found {
		return new(C), nil
	}
	return c, nil
}

// Handler passes the correlation context of the delivery to fn explicitly.
// Outside of Middleware fn receives a default context.
func Handler[C any](fn func(ctx context.Context, event consume.Event, c *C) error) consume.Handler {
	return func(event consume.Event) error {
		ctx := event.Message().Context()
		c, ok := FromContext[C](ctx)
		if !ok {
			c = new(C)
		}
		return fn(ctx, event, c)
	}
}

// CreateHandler combines consume.CreateHandler and Handler: the body is decoded into T and
// the correlation context of the delivery is passed along with it
func CreateHandler[C any, T any](
	dec consume.Decoder,
	fn func(ctx context.Context, c *C, target T) error,
	middleware ...consume.Middleware,
) consume.Handler {
	return consume.CreateHandler(dec, func(ctx context.Context, target T) error {
		c, ok := FromContext[C](ctx)
		if !ok {
			c = new(C)
		}
		return fn(ctx, c, target)
	}, middleware...)
}
