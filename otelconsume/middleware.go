package otelconsume

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/consume"
	"github.com/velmie/consume/retry"
)

// PublisherMiddleware creates a middleware for consume.Publisher that integrates tracing.
// The span is a child of the span found in the message processing unit, so messages
// published from a handler continue the trace of the delivery being processed.
func PublisherMiddleware(option ...Option) consume.PublisherMiddleware {
	opts := defaultOptions()
	opts.spanNameFormatter = spanNameFormatter("publish")
	opts.apply(option)
	return func(next consume.Publisher) consume.Publisher {
		return consume.PublisherFunc(func(topic string, msg *consume.Message) error {
			tracer := opts.tracerFor(msg)

			kind := trace.WithSpanKind(trace.SpanKindProducer)
			attrs := append(commonAttributes(topic, msg), semconv.MessagingOperationPublish)
			sopts := append(
				[]trace.SpanStartOption{kind, trace.WithAttributes(attrs...)},
				opts.spanStartOptions...,
			)

			ctx, span := tracer.Start(msg.Context(), opts.spanNameFormatter(topic, msg), sopts...)
			defer span.End()

			if msg.Header == nil {
				msg.Header = make(consume.Header)
			}
			opts.propagator.Inject(ctx, propagation.MapCarrier(msg.Header))
			err := next.Publish(topic, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}

			return err
		})
	}
}

// ConsumerMiddleware creates a middleware for consume.Handler that integrates tracing.
// The span lives in the message processing unit for the duration of the handler call.
func ConsumerMiddleware(option ...Option) consume.Middleware {
	opts := defaultOptions()
	opts.spanNameFormatter = spanNameFormatter("receive")
	opts.apply(option)
	return func(next consume.Handler) consume.Handler {
		return func(event consume.Event) error {
			msg := event.Message()
			topic := event.Topic()

			tracer := opts.tracerFor(msg)
			if msg.Header == nil {
				msg.Header = make(consume.Header)
			}
			parent := msg.Context()
			ctx := opts.propagator.Extract(parent, propagation.MapCarrier(msg.Header))

			kind := trace.WithSpanKind(trace.SpanKindConsumer)
			attrs := append(commonAttributes(topic, msg), semconv.MessagingOperationReceive)
			if n, ok := retry.DefaultCount(event); ok && n > 0 {
				attrs = append(attrs, RetryCountKey.Int(n))
			}
			sopts := append(
				[]trace.SpanStartOption{kind, trace.WithAttributes(attrs...)},
				opts.spanStartOptions...,
			)

			ctx, span := tracer.Start(ctx, opts.spanNameFormatter(topic, msg), sopts...)
			defer span.End()

			msg.SetContext(ctx)
			defer msg.SetContext(parent)

			err := next(event)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}

			return err
		}
	}
}

// Option is a functional option type for configuring propagation
type Option func(opts *options)

// WithPropagator returns an Option that sets a custom propagator
// for text map propagation of trace context.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(opts *options) {
		opts.propagator = p
	}
}

// WithTracerProvider sets the provider used when the processing unit carries no span
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(opts *options) {
		opts.tracerProvider = tp
	}
}

// WithTracer returns an Option that sets a custom tracer, it takes precedence over
// any tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(opts *options) {
		opts.tracer = t
	}
}

// WithSpanStartOptions returns an Option that sets custom
// SpanStartOptions for starting new spans.
func WithSpanStartOptions(startOpts ...trace.SpanStartOption) Option {
	return func(opts *options) {
		opts.spanStartOptions = startOpts
	}
}

// WithSpanNameFormatter returns an Option that sets a custom
// function for formatting span names.
func WithSpanNameFormatter(formatter func(topic string, msg *consume.Message) string) Option {
	return func(opts *options) {
		opts.spanNameFormatter = formatter
	}
}

type options struct {
	propagator        propagation.TextMapPropagator
	tracer            trace.Tracer
	tracerProvider    trace.TracerProvider
	spanStartOptions  []trace.SpanStartOption
	spanNameFormatter func(topic string, msg *consume.Message) string
}

func (o *options) apply(opts []Option) *options {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) tracerFor(msg *consume.Message) trace.Tracer {
	if o.tracer != nil {
		return o.tracer
	}
	if span := trace.SpanFromContext(msg.Context()); span.SpanContext().IsValid() {
		return newTracer(span.TracerProvider())
	}
	if o.tracerProvider != nil {
		return newTracer(o.tracerProvider)
	}
	return newTracer(otel.GetTracerProvider())
}

// defaultOptions uses the global TextMapPropagator.
func defaultOptions() *options {
	return &options{
		propagator: otel.GetTextMapPropagator(),
	}
}

func spanNameFormatter(operation string) func(topic string, msg *consume.Message) string {
	return func(topic string, msg *consume.Message) string {
		return topic + " " + operation
	}
}
