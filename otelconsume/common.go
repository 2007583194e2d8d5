// Package otelconsume adds OpenTelemetry tracing to consume handlers and publishers and
// exports the outcomes of the deduplication gate as metrics.
package otelconsume

import (
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/velmie/consume"
)

// ScopeName is the instrumentation scope name.
const (
	ScopeName = "github.com/velmie/consume/otelconsume"
	Version   = "0.1.0"
)

// RetryCountKey is set on consumer spans of redelivered messages
const RetryCountKey = attribute.Key("messaging.consume.retry_count")

func newTracer(tp trace.TracerProvider) trace.Tracer {
	return tp.Tracer(ScopeName, trace.WithInstrumentationVersion(Version))
}

func commonAttributes(topic string, msg *consume.Message) []attribute.KeyValue {
	attr := []attribute.KeyValue{
		semconv.MessagingDestinationName(topic),
		semconv.MessagingMessagePayloadSizeBytes(len(msg.Body)),
	}
	if msg.ID != "" {
		attr = append(attr, semconv.MessagingMessageID(msg.ID))
	}

	if correlationID := msg.Header.GetCorrelationID(); correlationID != "" {
		attr = append(attr, semconv.MessagingMessageConversationID(correlationID))
	}

	return attr
}
