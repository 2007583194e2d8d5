// Package pipeline assembles the consumer middleware chain and the outbound publisher
// decoration from a config.Config, once at startup.
//
// The inbound chain, outermost first:
//
//	PanicRecovery, Tracing, Logging, retry, dedup gate, correlation
//
// Stages switched off in the configuration are left out of the chain entirely.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/velmie/idempo"

	"github.com/velmie/consume"
	"github.com/velmie/consume/config"
	"github.com/velmie/consume/correlation"
	"github.com/velmie/consume/dedup"
	"github.com/velmie/consume/dedup/pgstore"
	"github.com/velmie/consume/dedup/redisstore"
	"github.com/velmie/consume/logging"
	"github.com/velmie/consume/naming"
	"github.com/velmie/consume/otelconsume"
	"github.com/velmie/consume/retry"
)

// Pipeline holds the middleware built from the configuration
type Pipeline[C any] struct {
	middleware []consume.Middleware
	publisher  []consume.PublisherMiddleware
	backend    dedup.Backend
	codec      *correlation.Codec[C]
	names      *naming.Resolver
	logger     consume.Logger
	closers    []func() error
}

// New builds the pipeline for the correlation context type C
func New[C any](ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline[C], error) {
	if cfg == nil {
		return nil, errors.New("pipeline: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New(os.Stderr, cfg.Log.Level)
	}

	p := &Pipeline[C]{
		logger:  o.logger,
		backend: dedup.Disabled{},
		names: naming.New(naming.Config{
			DefaultNamespace: cfg.Naming.DefaultNamespace,
			ApplicationID:    cfg.Naming.ApplicationID,
			Overrides:        cfg.Naming.Overrides,
		}),
	}

	if o.panicRecovery {
		p.middleware = append(p.middleware, consume.PanicRecoveryMiddleware())
	}
	if o.tracing != nil {
		p.middleware = append(p.middleware, otelconsume.ConsumerMiddleware(o.tracing...))
		p.publisher = append(p.publisher, otelconsume.PublisherMiddleware(o.tracing...))
	}
	if cfg.Log.Messages {
		p.middleware = append(p.middleware, consume.LoggingMiddleware(o.logger, o.loggingOptions...))
	}
	p.middleware = append(p.middleware, retry.Middleware(retry.WithLogger(o.logger)))

	if cfg.Dedup.Enabled {
		if err := p.buildGate(ctx, cfg, o); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	if cfg.Context.Enabled {
		policy, err := correlation.ParseDecodeErrorPolicy(cfg.Context.OnDecodeError)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		codecOpts := append([]correlation.CodecOption{correlation.WithHeaderName(cfg.Context.Header)}, o.codecOptions...)
		p.codec = correlation.NewCodec[C](codecOpts...)
		p.middleware = append(p.middleware, correlation.Middleware(
			p.codec,
			correlation.WithDecodeErrorPolicy(policy),
			correlation.WithIncludeCorrelationID(cfg.Context.IncludeCorrelationID),
			correlation.WithLogger(o.logger),
		))
		p.publisher = append(p.publisher, correlation.PublisherMiddleware(p.codec))
	}

	o.logger.Info(
		"consumer pipeline ready",
		"dedup", cfg.Dedup.Enabled,
		"backend", cfg.Dedup.BackendKind(),
		"context", cfg.Context.Enabled,
	)

	return p, nil
}

func (p *Pipeline[C]) buildGate(ctx context.Context, cfg *config.Config, o *options) error {
	kind := cfg.Dedup.BackendKind()
	factory, ok := o.factories[kind]
	if !ok {
		return &UnknownBackendError{Kind: kind}
	}

	env := &Env{
		Config:    cfg,
		Logger:    o.logger,
		Redis:     o.redis,
		JetStream: o.jetStream,
		Postgres:  o.postgres,
		Idempo:    o.idempo,
	}
	backend, err := factory(ctx, env)
	p.closers = append(p.closers, env.closers...)
	if err != nil {
		return fmt.Errorf("pipeline: unable to create %q dedup backend: %w", kind, err)
	}

	policy, err := dedup.ParseMissingIDPolicy(cfg.Dedup.MissingIDPolicy)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	gateOpts := []dedup.Option{
		dedup.WithKeyPrefix(cfg.Dedup.KeyPrefix),
		dedup.WithMissingIDPolicy(policy),
		dedup.WithAckOnDuplicate(cfg.Dedup.AckOnDuplicate),
		dedup.WithLogger(o.logger),
	}
	if o.metrics != nil {
		gateOpts = append(gateOpts, o.metrics.GateOptions()...)
	}
	gateOpts = append(gateOpts, o.gateOptions...)

	p.backend = backend
	p.middleware = append(p.middleware, dedup.Middleware(backend, gateOpts...))
	return nil
}

// Wrap applies the inbound chain to h
func (p *Pipeline[C]) Wrap(h consume.Handler) consume.Handler {
	return consume.Chain(h, p.middleware...)
}

// Middleware returns a copy of the inbound chain, outermost first
func (p *Pipeline[C]) Middleware() []consume.Middleware {
	return append([]consume.Middleware(nil), p.middleware...)
}

// Publisher decorates pub so outbound messages carry the ambient context
func (p *Pipeline[C]) Publisher(pub consume.Publisher) consume.Publisher {
	return consume.ChainPublisher(pub, p.publisher...)
}

// Backend returns the dedup backend, dedup.Disabled when the gate is off
func (p *Pipeline[C]) Backend() dedup.Backend {
	return p.backend
}

// Codec returns the context codec, nil when context propagation is off
func (p *Pipeline[C]) Codec() *correlation.Codec[C] {
	return p.codec
}

// Names returns the exchange and queue name resolver configured by config.Naming
func (p *Pipeline[C]) Names() *naming.Resolver {
	return p.names
}

// Close releases the clients the pipeline created itself, in reverse order
func (p *Pipeline[C]) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Env is what a BackendFactory gets to build a backend.
// Clients are nil unless passed with the corresponding option.
type Env struct {
	Config    *config.Config
	Logger    consume.Logger
	Redis     redisstore.Client
	JetStream nats.JetStreamContext
	Postgres  pgstore.DB
	Idempo    idempo.Store

	closers []func() error
}

// OnClose registers fn to run on Pipeline.Close
func (e *Env) OnClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// BackendFactory creates the dedup backend of one kind
type BackendFactory func(ctx context.Context, env *Env) (dedup.Backend, error)

// UnknownBackendError is returned by New when no factory is registered for the configured kind
type UnknownBackendError struct {
	Kind string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("pipeline: unknown dedup backend %q", e.Kind)
}

type options struct {
	logger         consume.Logger
	loggingOptions []consume.LoggingMiddlewareOption
	panicRecovery  bool
	tracing        []otelconsume.Option
	metrics        *otelconsume.Metrics
	gateOptions    []dedup.Option
	codecOptions   []correlation.CodecOption
	factories      map[string]BackendFactory

	redis     redisstore.Client
	jetStream nats.JetStreamContext
	postgres  pgstore.DB
	idempo    idempo.Store
}

func defaultOptions() *options {
	return &options{
		panicRecovery: true,
		factories:     DefaultFactories(),
	}
}

// Option configures the pipeline
type Option func(*options)

// WithLogger sets the logger shared by every stage; by default one is built from config.Log
func WithLogger(l consume.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLoggingOptions configures the message logging stage enabled by config.Log.Messages
func WithLoggingOptions(opts ...consume.LoggingMiddlewareOption) Option {
	return func(o *options) {
		o.loggingOptions = append(o.loggingOptions, opts...)
	}
}

// WithPanicRecovery toggles the outermost panic recovery stage (default: on)
func WithPanicRecovery(enabled bool) Option {
	return func(o *options) {
		o.panicRecovery = enabled
	}
}

// WithTracing adds the OpenTelemetry consumer and publisher middleware
func WithTracing(opts ...otelconsume.Option) Option {
	return func(o *options) {
		o.tracing = append([]otelconsume.Option{}, opts...)
	}
}

// WithMetrics counts gate outcomes with m
func WithMetrics(m *otelconsume.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithGateOptions appends options to those derived from config.Dedup
func WithGateOptions(opts ...dedup.Option) Option {
	return func(o *options) {
		o.gateOptions = append(o.gateOptions, opts...)
	}
}

// WithCodecOptions configures the context codec, e.g. a non JSON serializer
func WithCodecOptions(opts ...correlation.CodecOption) Option {
	return func(o *options) {
		o.codecOptions = append(o.codecOptions, opts...)
	}
}

// WithBackendFactory registers factory for kind, replacing a built-in one
func WithBackendFactory(kind string, factory BackendFactory) Option {
	return func(o *options) {
		o.factories[kind] = factory
	}
}

// WithRedis makes the shared backend use client instead of dialing config.Redis
func WithRedis(client redisstore.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithJetStream makes the nats backend use js instead of connecting to config.NATS.URL
func WithJetStream(js nats.JetStreamContext) Option {
	return func(o *options) {
		o.jetStream = js
	}
}

// WithPostgres makes the postgres backend use db instead of opening a pool from config.Postgres.DSN
func WithPostgres(db pgstore.DB) Option {
	return func(o *options) {
		o.postgres = db
	}
}

// WithIdempoStore sets the store used by the idempo backend
func WithIdempoStore(store idempo.Store) Option {
	return func(o *options) {
		o.idempo = store
	}
}
