package otelconsume

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/consume"
	"github.com/velmie/consume/dedup"
)

// Metric names
const (
	MetricDuplicates    = "consume.dedup.duplicates"
	MetricMissingID     = "consume.dedup.missing_id"
	MetricRollbacks     = "consume.dedup.rollbacks"
	MetricReleaseErrors = "consume.dedup.release_errors"
)

// Metrics counts the outcomes of the deduplication gate.
// Every recorded outcome is also added as an event to the span of the delivery, if any.
type Metrics struct {
	duplicates    metric.Int64Counter
	missingID     metric.Int64Counter
	rollbacks     metric.Int64Counter
	releaseErrors metric.Int64Counter
}

// NewMetrics creates the instruments; a nil provider means the global one
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(ScopeName, metric.WithInstrumentationVersion(Version))

	var (
		m    Metrics
		err  error
		errs []error
	)
	m.duplicates, err = meter.Int64Counter(MetricDuplicates,
		metric.WithDescription("Deliveries skipped because their message id was already processed"))
	errs = append(errs, err)
	m.missingID, err = meter.Int64Counter(MetricMissingID,
		metric.WithDescription("Deliveries without a usable message id"))
	errs = append(errs, err)
	m.rollbacks, err = meter.Int64Counter(MetricRollbacks,
		metric.WithDescription("Claims released because the handler failed"))
	errs = append(errs, err)
	m.releaseErrors, err = meter.Int64Counter(MetricReleaseErrors,
		metric.WithDescription("Claims which could not be released"))
	errs = append(errs, err)

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// GateOptions wires the counters into dedup.Middleware
func (m *Metrics) GateOptions() []dedup.Option {
	return []dedup.Option{
		dedup.WithOnDuplicate(func(e consume.Event) {
			m.record(e, m.duplicates, "duplicate skipped", nil)
		}),
		dedup.WithOnMissingID(func(e consume.Event) {
			m.record(e, m.missingID, "message id missing", nil)
		}),
		dedup.WithOnRollback(func(e consume.Event, err error) {
			m.record(e, m.rollbacks, "claim released", err)
		}),
		dedup.WithOnReleaseError(func(e consume.Event, err error) {
			m.record(e, m.releaseErrors, "claim release failed", err)
		}),
	}
}

func (m *Metrics) record(e consume.Event, counter metric.Int64Counter, name string, cause error) {
	ctx := e.Message().Context()
	attrs := []attribute.KeyValue{semconv.MessagingDestinationName(e.Topic())}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if cause != nil {
		attrs = append(attrs, attribute.String("error", cause.Error()))
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
