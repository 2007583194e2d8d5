package dedup

import (
	"fmt"
	"strings"
	"time"

	"github.com/velmie/consume"
)

const (
	defaultIDLength       = 255
	defaultReleaseTimeout = 5 * time.Second
)

// MissingIDPolicy defines middleware behavior for deliveries without a message id.
type MissingIDPolicy int

const (
	// MissingIDFailOpen runs the handler without deduplication for that one delivery.
	MissingIDFailOpen MissingIDPolicy = iota
	// MissingIDFailClosed rejects the delivery with a *MissingMessageIDError.
	MissingIDFailClosed
)

// ParseMissingIDPolicy maps configuration values ("fail-open", "fail-closed") to a policy.
func ParseMissingIDPolicy(s string) (MissingIDPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-open", "open":
		return MissingIDFailOpen, nil
	case "fail-closed", "closed":
		return MissingIDFailClosed, nil
	}
	return MissingIDFailOpen, fmt.Errorf("dedup: unknown missing id policy %q", s)
}

func (p MissingIDPolicy) String() string {
	if p == MissingIDFailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Config defines the gate behavior. Use functional Options with Middleware
// instead of constructing Config directly.
type Config struct {
	// HeaderName is used as a fallback when consume.Message.ID is empty.
	HeaderName string
	// KeyPrefix is prepended to the id before it reaches the backend.
	KeyPrefix string
	// UseTopicInKey scopes ids by topic (key = KeyPrefix + topic + ":" + id).
	UseTopicInKey bool
	// IDValidator validates the resolved id. Returning an error rejects the delivery.
	IDValidator func(string) error

	MissingIDPolicy MissingIDPolicy
	// AckOnDuplicate acknowledges duplicates explicitly, for subscriptions without auto ack.
	AckOnDuplicate bool
	// ReleaseTimeout bounds the Release call made after a handler failure.
	ReleaseTimeout time.Duration

	Logger consume.Logger

	// OnDuplicate is called when a delivery is skipped as a duplicate.
	OnDuplicate func(consume.Event)
	// OnMissingID is called for every delivery without a usable id, whatever the policy.
	OnMissingID func(consume.Event)
	// OnRollback is called when the handler failed and the claim is being released.
	OnRollback func(consume.Event, error)
	// OnReleaseError is called when releasing the claim fails.
	OnReleaseError func(consume.Event, error)
}

// Option configures the middleware.
type Option func(*Config)

// WithHeaderName sets the header used as the id source when Message.ID is empty.
func WithHeaderName(name string) Option {
	return func(c *Config) {
		c.HeaderName = name
	}
}

// WithKeyPrefix prepends prefix to every id.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithTopicInKey scopes ids by the event topic.
func WithTopicInKey(enabled bool) Option {
	return func(c *Config) {
		c.UseTopicInKey = enabled
	}
}

// WithIDValidator sets a custom id validator.
func WithIDValidator(validator func(string) error) Option {
	return func(c *Config) {
		c.IDValidator = validator
	}
}

// WithMissingIDPolicy sets how deliveries without an id are handled.
func WithMissingIDPolicy(policy MissingIDPolicy) Option {
	return func(c *Config) {
		c.MissingIDPolicy = policy
	}
}

// WithAckOnDuplicate acknowledges skipped duplicates explicitly.
func WithAckOnDuplicate(ack bool) Option {
	return func(c *Config) {
		c.AckOnDuplicate = ack
	}
}

// WithReleaseTimeout sets the timeout of the Release call.
func WithReleaseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ReleaseTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(l consume.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithOnDuplicate sets a callback invoked for skipped duplicates.
func WithOnDuplicate(fn func(consume.Event)) Option {
	return func(c *Config) {
		c.OnDuplicate = fn
	}
}

// WithOnMissingID sets a callback invoked for deliveries without an id.
func WithOnMissingID(fn func(consume.Event)) Option {
	return func(c *Config) {
		c.OnMissingID = fn
	}
}

// WithOnRollback sets a callback invoked when a failed handler's claim is released.
func WithOnRollback(fn func(consume.Event, error)) Option {
	return func(c *Config) {
		c.OnRollback = fn
	}
}

// WithOnReleaseError sets a callback invoked when Release fails.
func WithOnReleaseError(fn func(consume.Event, error)) Option {
	return func(c *Config) {
		c.OnReleaseError = fn
	}
}

// NewConfig applies options and fills defaults.
func NewConfig(opts ...Option) Config {
	c := Config{
		HeaderName:      consume.HdrMessageID,
		MissingIDPolicy: MissingIDFailOpen,
		ReleaseTimeout:  defaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.IDValidator == nil {
		c.IDValidator = defaultIDValidator
	}
	if c.Logger == nil {
		c.Logger = consume.NopLogger{}
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = defaultReleaseTimeout
	}
	c.HeaderName = strings.TrimSpace(c.HeaderName)
	return c
}

func defaultIDValidator(id string) error {
	if len(id) > defaultIDLength {
		return fmt.Errorf("%w: too long (max %d chars)", ErrInvalidMessageID, defaultIDLength)
	}
	return nil
}
