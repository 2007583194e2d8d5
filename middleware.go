package consume

import (
	"fmt"
	"runtime/debug"
	"time"
)

// PanicRecoveryMiddleware creates a middleware to recover from panics.
// It converts the panic into a regular error that can be returned and handled.
func PanicRecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(e Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v\n%s", r, debug.Stack())
				}
			}()
			return next(e)
		}
	}
}

// LoggingMiddleware creates a middleware for logging the results of event processing.
// It logs whether the processing was successful or resulted in an error,
// along with the message id, the retry attempt and the time taken to process it.
// The retry attempt is taken from the event when it counts redeliveries itself
// and from the Retry-Count header otherwise; first deliveries omit it.
func LoggingMiddleware(logger Logger, options ...LoggingMiddlewareOption) Middleware {
	opts := &loggingMiddlewareOptions{
		logError: true,
		logHeaderFunc: func(e Event) string {
			return fmt.Sprintf("%+v", e.Message().Header)
		},
		logBodyFunc: func(e Event) string {
			const logBodyMax = 4096
			data := e.Message().Body
			if len(data) > logBodyMax {
				return string(data[:logBodyMax])
			}
			return string(data)
		},
	}
	for _, opt := range options {
		opt(opts)
	}

	return func(next Handler) Handler {
		return func(e Event) error {
			startTime := time.Now()
			err := next(e)
			duration := time.Since(startTime)

			m := e.Message()
			args := []any{
				"messageId", m.ID,
				"topic", e.Topic(),
				"duration", duration,
			}
			if n := retryAttempt(e); n > 0 {
				args = append(args, "retries", n)
			}
			if err != nil && opts.logError {
				args = append(args, "error", err.Error())
			}
			if opts.logHeader {
				args = append(args, "header", opts.logHeaderFunc(e))
			}
			if opts.logBody || err != nil && opts.logBodyOnError {
				args = append(args, "body", opts.logBodyFunc(e))
			}
			logF := logger.Info
			if err != nil {
				logF = logger.Error
			}
			logF("event processed", args...)

			return err
		}
	}
}

func retryAttempt(e Event) int {
	if c, ok := e.(interface{ Retries() int }); ok {
		return c.Retries()
	}
	if n, ok := e.Message().Header.GetRetryCount(); ok {
		return n
	}
	return 0
}

type loggingMiddlewareOptions struct {
	logError       bool
	logHeader      bool
	logHeaderFunc  func(e Event) string
	logBody        bool
	logBodyOnError bool
	logBodyFunc    func(e Event) string
}

// LoggingMiddlewareOption defines a function type for setting options on the logging middleware.
type LoggingMiddlewareOption func(*loggingMiddlewareOptions)

// WithLogError toggles logging of the handler error.
func WithLogError(logError bool) LoggingMiddlewareOption {
	return func(o *loggingMiddlewareOptions) {
		o.logError = logError
	}
}

// WithLogHeader toggles logging of message headers.
func WithLogHeader(logHeader bool) LoggingMiddlewareOption {
	return func(o *loggingMiddlewareOptions) {
		o.logHeader = logHeader
	}
}

// WithLogHeaderFunc sets a custom header formatter.
func WithLogHeaderFunc(logHeaderFunc func(e Event) string) LoggingMiddlewareOption {
	return func(o *loggingMiddlewareOptions) {
		o.logHeaderFunc = logHeaderFunc
	}
}

// WithLogBody toggles logging of the message body.
func WithLogBody(logBody bool) LoggingMiddlewareOption {
	return func(o *loggingMiddlewareOptions) {
		o.logBody = logBody
	}
}

// WithLogBodyOnError logs the body only when the handler fails.
func WithLogBodyOnError(logBodyOnError bool) LoggingMiddlewareOption {
	return func(o *loggingMiddlewareOptions) {
		o.logBodyOnError = logBodyOnError
	}
}

// WithLogBodyFunc sets a custom body formatter.
func WithLogBodyFunc(logBodyFunc func(e Event) string) LoggingMiddlewareOption {
	return func(o *loggingMiddlewareOptions) {
		o.logBodyFunc = logBodyFunc
	}
}

// LoopbackPreventionMiddleware skips messages which were published by the given instance.
// A consumer which also publishes to the queues it reads would otherwise process its own output.
func LoopbackPreventionMiddleware(instanceID string, logger ...Logger) Middleware {
	var l Logger = NopLogger{}
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return func(next Handler) Handler {
		return func(e Event) error {
			if e.Message().Header.GetInstanceID() == instanceID {
				l.Debug(
					"skipping message handling as it originates from the same instance",
					"instanceId", instanceID,
					"topic", e.Topic(),
					"messageId", e.Message().ID,
				)
				return nil
			}
			return next(e)
		}
	}
}
