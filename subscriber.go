package consume

import "sync"

// Subscription represents a running consumption of a specific queue or topic
type Subscription interface {
	Topic() string
	Options() *SubscribeOptions
	Handler() Handler
	Unsubscribe() error
	Done() <-chan struct{}
}

// Subscriber allows subscribing to a specific queue or topic
type Subscriber interface {
	Subscribe(topic string, handler Handler, options ...SubscribeOption) (Subscription, error)
}

// SubscribeOptions represents options which could be applied to a Subscription
type SubscribeOptions struct {
	// AutoAck defaults to true. When a handler returns
	// with a nil error the message is acked.
	AutoAck bool
	// Requeue tells transports supporting negative acknowledgement
	// whether a failed delivery goes back to the queue.
	Requeue bool
	// ErrorHandler processes subscription errors
	ErrorHandler ErrorHandler
	// Logger logs important events
	Logger Logger
}

// DefaultSubscribeOptions creates options with default values
func DefaultSubscribeOptions() *SubscribeOptions {
	return &SubscribeOptions{
		AutoAck: true,
		Requeue: true,
	}
}

// SubscribeOption provides a way to interact with the subscription options
type SubscribeOption func(*SubscribeOptions)

// DisableAutoAck sets the option which disables auto ack functionality
func DisableAutoAck() SubscribeOption {
	return func(o *SubscribeOptions) {
		o.AutoAck = false
	}
}

// WithRequeue sets whether failed deliveries are requeued on nack
func WithRequeue(requeue bool) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.Requeue = requeue
	}
}

// WithErrorHandler sets the option which provides error handler
func WithErrorHandler(handler ErrorHandler) SubscribeOption {
	return func(options *SubscribeOptions) {
		options.ErrorHandler = handler
	}
}

// WithLogger sets the logger
func WithLogger(log Logger) SubscribeOption {
	return func(options *SubscribeOptions) {
		options.Logger = log
	}
}

// DefaultSubscription is a reusable Subscription implementation for transport adapters
type DefaultSubscription struct {
	topic   string
	options *SubscribeOptions
	handler Handler
	done    chan struct{}
	once    sync.Once
	cancel  func() error
}

// NewDefaultSubscription creates a subscription; cancel, if not nil, is called once on Unsubscribe
func NewDefaultSubscription(
	topic string,
	options *SubscribeOptions,
	handler Handler,
	cancel func() error,
) *DefaultSubscription {
	return &DefaultSubscription{
		topic:   topic,
		options: options,
		handler: handler,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
}

func (s *DefaultSubscription) Options() *SubscribeOptions {
	return s.options
}

func (s *DefaultSubscription) Handler() Handler {
	return s.handler
}

func (s *DefaultSubscription) Topic() string {
	return s.topic
}

func (s *DefaultSubscription) Unsubscribe() (err error) {
	s.once.Do(func() {
		if s.cancel != nil {
			err = s.cancel()
		}
		close(s.done)
	})
	return err
}

func (s *DefaultSubscription) Done() <-chan struct{} {
	return s.done
}
