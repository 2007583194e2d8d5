package consume

import (
	"context"
	"fmt"
	"reflect"
)

// CreateHandler creates an event handler that uses a Decoder to decode the message body into
// a concrete value, which is then passed to the consumer function together with the
// processing unit context of the message.
func CreateHandler[T any](
	dec Decoder,
	consumerFunc func(ctx context.Context, target T) error,
	middleware ...Middleware,
) Handler {
	runConsumerFunc := func(ctx context.Context, _ Event, target T) error {
		return consumerFunc(ctx, target)
	}

	return createHandler(dec, runConsumerFunc, middleware...)
}

// CorrelationIDAware is implemented by message payloads which want to receive the correlation id header
type CorrelationIDAware interface {
	SetCorrelationID(id string)
}

func createHandler[T any](
	dec Decoder,
	consumerFunc func(ctx context.Context, event Event, target T) error,
	middleware ...Middleware,
) Handler {
	h := func(event Event) error {
		var target T
		var targetPtr any

		targetType := reflect.TypeOf(target)
		if targetType == nil {
			return fmt.Errorf("cannot determine type of target")
		}

		if targetType.Kind() == reflect.Pointer {
			targetValue := reflect.New(targetType.Elem())
			target = targetValue.Interface().(T)
			targetPtr = target
		} else {
			targetPtr = &target
		}

		message := event.Message()
		if err := dec.Decode(message.Body, targetPtr); err != nil {
			return fmt.Errorf("failed to decode message body: %w", err)
		}

		if correlationID := message.Header.GetCorrelationID(); correlationID != "" {
			if corIDAware, ok := targetPtr.(CorrelationIDAware); ok {
				corIDAware.SetCorrelationID(correlationID)
			}
		}

		return consumerFunc(message.Context(), event, target)
	}

	return Chain(h, middleware...)
}
