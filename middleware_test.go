package consume_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/velmie/consume"
	mock_consume "github.com/velmie/consume/mock"
)

func TestPanicRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		handler       consume.Handler
		expectErr     bool
		expectedError string
	}{
		{
			name: "no_panic",
			handler: func(e consume.Event) error {
				return nil
			},
		},
		{
			name: "handler_error_passes_through",
			handler: func(e consume.Event) error {
				return errors.New("plain failure")
			},
			expectErr:     true,
			expectedError: "plain failure",
		},
		{
			name: "panic_with_string",
			handler: func(e consume.Event) error {
				panic("claim lost")
			},
			expectErr:     true,
			expectedError: "panic recovered: claim lost",
		},
		{
			name: "panic_with_error",
			handler: func(e consume.Event) error {
				panic(errors.New("nil pointer in handler"))
			},
			expectErr:     true,
			expectedError: "panic recovered: nil pointer in handler",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := consume.PanicRecoveryMiddleware()(tt.handler)

			err := wrapped(nil) // the event is not used

			if !tt.expectErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.expectedError), "error must contain %q", tt.expectedError)
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	ctrl := gomock.NewController(t)

	logger := mock_consume.NewMockLogger(ctrl)
	failWith := func(err error) consume.Handler {
		return func(e consume.Event) error {
			return err
		}
	}

	const (
		messageID = "order-42"
		topic     = "orders.created"
	)
	msg := &consume.Message{
		ID:     messageID,
		Header: consume.Header{consume.HdrRetryCount: "1"},
		Body:   []byte(`{"orderId":42}`),
	}
	event := mock_consume.NewMockEvent(ctrl)
	event.EXPECT().Message().Return(msg).AnyTimes()
	event.EXPECT().Topic().Return(topic).AnyTimes()

	tests := []struct {
		name       string
		middleware consume.Middleware
		wantLog    func()
		handler    consume.Handler
	}{
		{
			name:       "success_no_options",
			middleware: consume.LoggingMiddleware(logger),
			wantLog: func() {
				logger.EXPECT().Info("event processed", "messageId", messageID, "topic", topic, "duration", gomock.Any(), "retries", 1)
			},
		},
		{
			name:       "error_logged",
			middleware: consume.LoggingMiddleware(logger),
			wantLog: func() {
				logger.EXPECT().Error(
					"event processed",
					"messageId", messageID,
					"topic", topic,
					"duration", gomock.Any(), "retries", 1,
					"error", "stock service down",
				)
			},
			handler: failWith(errors.New("stock service down")),
		},
		{
			name: "body_logged_on_error_only",
			middleware: consume.LoggingMiddleware(
				logger,
				consume.WithLogBodyOnError(true),
				consume.WithLogError(false),
			),
			wantLog: func() {
				logger.EXPECT().Error(
					"event processed",
					"messageId", messageID,
					"topic", topic,
					"duration", gomock.Any(), "retries", 1,
					"body", string(msg.Body),
				)
			},
			handler: failWith(errors.New("stock service down")),
		},
		{
			name: "body_on_error_skipped_on_success",
			middleware: consume.LoggingMiddleware(
				logger,
				consume.WithLogBodyOnError(true),
			),
			wantLog: func() {
				logger.EXPECT().Info("event processed", "messageId", messageID, "topic", topic, "duration", gomock.Any(), "retries", 1)
			},
		},
		{
			name:       "body_always_logged",
			middleware: consume.LoggingMiddleware(logger, consume.WithLogBody(true)),
			wantLog: func() {
				logger.EXPECT().Info(
					"event processed",
					"messageId", messageID,
					"topic", topic,
					"duration", gomock.Any(), "retries", 1,
					"body", string(msg.Body),
				)
			},
		},
		{
			name:       "header_logged",
			middleware: consume.LoggingMiddleware(logger, consume.WithLogHeader(true)),
			wantLog: func() {
				logger.EXPECT().Info(
					"event processed",
					"messageId", messageID,
					"topic", topic,
					"duration", gomock.Any(), "retries", 1,
					"header", fmt.Sprintf("%+v", msg.Header),
				)
			},
		},
		{
			name: "custom_formatters",
			middleware: consume.LoggingMiddleware(
				logger,
				consume.WithLogHeader(true),
				consume.WithLogHeaderFunc(func(e consume.Event) string {
					return "retry " + e.Message().Header.Get(consume.HdrRetryCount)
				}),
				consume.WithLogBody(true),
				consume.WithLogBodyFunc(func(consume.Event) string {
					return "<redacted>"
				}),
			),
			wantLog: func() {
				logger.EXPECT().Info(
					"event processed",
					"messageId", messageID,
					"topic", topic,
					"duration", gomock.Any(), "retries", 1,
					"header", "retry 1",
					"body", "<redacted>",
				)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.wantLog()
			handler := tt.handler
			if handler == nil {
				handler = func(consume.Event) error { return nil }
			}

			_ = tt.middleware(handler)(event)
		})
	}
}

type redeliveredEvent struct {
	consume.Event
	retries int
}

func (e redeliveredEvent) Retries() int {
	return e.retries
}

func TestLoggingMiddlewareRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := mock_consume.NewMockLogger(ctrl)

	tests := []struct {
		name    string
		header  consume.Header
		retries int
		counted bool
		want    []any
	}{
		{
			name:   "first_delivery",
			header: consume.Header{},
			want:   []any{"messageId", "m-1", "topic", "orders", "duration", gomock.Any()},
		},
		{
			name:   "invalid_header_ignored",
			header: consume.Header{consume.HdrRetryCount: "many"},
			want:   []any{"messageId", "m-1", "topic", "orders", "duration", gomock.Any()},
		},
		{
			name:    "transport_counter_wins",
			header:  consume.Header{consume.HdrRetryCount: "1"},
			retries: 4,
			counted: true,
			want:    []any{"messageId", "m-1", "topic", "orders", "duration", gomock.Any(), "retries", 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &consume.Message{ID: "m-1", Header: tt.header}
			mockEvent := mock_consume.NewMockEvent(ctrl)
			mockEvent.EXPECT().Message().Return(msg).AnyTimes()
			mockEvent.EXPECT().Topic().Return("orders").AnyTimes()

			var event consume.Event = mockEvent
			if tt.counted {
				event = redeliveredEvent{Event: mockEvent, retries: tt.retries}
			}
			logger.EXPECT().Info("event processed", tt.want...)

			h := consume.LoggingMiddleware(logger)(func(consume.Event) error { return nil })
			require.NoError(t, h(event))
		})
	}
}

func TestLoopbackPreventionMiddleware(t *testing.T) {
	ctrl := gomock.NewController(t)

	tests := []struct {
		name       string
		instanceID string
		wantCalled bool
	}{
		{name: "own_message_skipped", instanceID: "billing-1", wantCalled: false},
		{name: "foreign_message_handled", instanceID: "billing-2", wantCalled: true},
		{name: "no_instance_header_handled", instanceID: "", wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &consume.Message{ID: "m-1", Header: consume.Header{}}
			if tt.instanceID != "" {
				msg.Header.SetInstanceID(tt.instanceID)
			}
			event := mock_consume.NewMockEvent(ctrl)
			event.EXPECT().Message().Return(msg).AnyTimes()
			event.EXPECT().Topic().Return("orders").AnyTimes()

			called := false
			h := consume.LoopbackPreventionMiddleware("billing-1")(func(consume.Event) error {
				called = true
				return nil
			})

			require.NoError(t, h(event))
			require.Equal(t, tt.wantCalled, called)
		})
	}
}

func TestChainOrder(t *testing.T) {
	var trace []string
	record := func(name string) consume.Middleware {
		return func(next consume.Handler) consume.Handler {
			return func(e consume.Event) error {
				trace = append(trace, name+":in")
				err := next(e)
				trace = append(trace, name+":out")
				return err
			}
		}
	}

	h := consume.Chain(func(consume.Event) error {
		trace = append(trace, "handler")
		return nil
	}, record("retry"), nil, record("gate"), record("context"))

	require.NoError(t, h(nil))
	require.Equal(t, []string{
		"retry:in", "gate:in", "context:in",
		"handler",
		"context:out", "gate:out", "retry:out",
	}, trace)
}
