package consume

import (
	"context"

	"github.com/google/uuid"
)

//go:generate go run go.uber.org/mock/mockgen@v0.4.0 -source common.go -destination ./mock/common.go

// Handler is used to process messages via a subscription of a topic.
// The handler is passed an event which contains the message
// and the Ack method to acknowledge receipt of the message.
type Handler func(Event) error

// Middleware defines a function type that takes a Handler and returns a modified Handler.
// It is used to intercept and optionally modify the behavior of the Handler function.
//
// Middleware functions are assembled once with Chain into an explicit ordered pipeline.
// Each Middleware is responsible for calling the next one, allowing it to skip
// processing (a confirmed duplicate), decorate the processing unit (retry count,
// correlation context) or react to the result (rollback, logging).
//
// Example:
//
//	func MyMiddleware(next Handler) Handler {
//	    return func(e Event) error {
//	        // Pre-processing logic here
//	        err := next(e)
//	        // Post-processing logic here
//	        return err
//	    }
//	}
type Middleware func(Handler) Handler

// Chain wraps h with the given middleware. The first middleware is the outermost one,
// so Chain(h, a, b) runs a, then b, then h.
func Chain(h Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		if middleware[i] == nil {
			continue
		}
		h = middleware[i](h)
	}
	return h
}

type Message struct {
	// ID must uniquely identify the message
	ID string
	// Header includes additional service data
	Header Header
	// Body is message payload
	Body []byte

	ctx context.Context
}

// NewMessage initializes message with a random ID
func NewMessage() *Message {
	return &Message{
		ID:     uuid.NewString(),
		Header: make(Header),
	}
}

// Context returns the processing unit context of the message.
// Values stored there are visible only to the code handling this very message.
func (m *Message) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// SetContext replaces the processing unit context of the message
func (m *Message) SetContext(ctx context.Context) {
	m.ctx = ctx
}

// Event is given to a subscription handler for processing
type Event interface {
	Topic() string
	Message() *Message
	Ack() error
}

// Nacker is implemented by events whose transport supports negative acknowledgement
type Nacker interface {
	Nack(requeue bool) error
}

// ErrorHandler is used in order to handle errors
type ErrorHandler func(err error, sub Subscription)

// Logger abstracts the logging functionality
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// SetIDHeader copies the message ID into the Message-Id header unless it is already there
func SetIDHeader(message *Message) {
	if message.Header == nil {
		message.Header = make(Header)
	}
	if _, ok := message.Header[HdrMessageID]; !ok && message.ID != "" {
		message.Header[HdrMessageID] = message.ID
	}
}
