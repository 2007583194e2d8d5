package amqpconsume

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/velmie/consume"
)

// ErrDeliveriesClosed is reported to the error handler when the server closes the delivery channel
const ErrDeliveriesClosed = consume.Error("amqp: delivery channel closed")

// Channel is the subset of *amqp.Channel used by Subscriber
type Channel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// Subscriber consumes queues of one AMQP channel.
//
// Deliveries are always consumed with manual acknowledgement: with AutoAck (the default)
// a nil handler result acknowledges the delivery and an error negatively acknowledges
// it, requeueing it according to SubscribeOptions.Requeue.
type Subscriber struct {
	ch            Channel
	consumerName  string
	subscriptions sync.Map
}

type subscriberOptions struct {
	consumerName string
}

// SubscriberOption configures Subscriber
type SubscriberOption func(*subscriberOptions)

// ConsumerName sets the prefix of the consumer tags, usually the service name
func ConsumerName(name string) SubscriberOption {
	return func(o *subscriberOptions) {
		o.consumerName = name
	}
}

// NewSubscriber creates a subscriber
func NewSubscriber(ch Channel, options ...SubscriberOption) *Subscriber {
	opts := &subscriberOptions{consumerName: "consume"}
	for _, o := range options {
		o(opts)
	}
	return &Subscriber{ch: ch, consumerName: opts.consumerName}
}

func (s *Subscriber) Subscribe(
	queue string,
	handler consume.Handler,
	options ...consume.SubscribeOption,
) (consume.Subscription, error) {
	if handler == nil {
		return nil, consume.ErrNilHandler
	}
	opts := consume.DefaultSubscribeOptions()
	for _, o := range options {
		o(opts)
	}

	if _, exist := s.subscriptions.Load(queue); exist {
		return nil, errors.Wrapf(consume.AlreadySubscribed, "amqp: the queue %q already has a subscription", queue)
	}

	tag := s.consumerName + "-" + uuid.NewString()
	deliveries, err := s.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "amqp: cannot consume queue %q", queue)
	}

	sub := &subscription{subscriber: s}
	sub.DefaultSubscription = consume.NewDefaultSubscription(queue, opts, handler, func() error {
		return s.ch.Cancel(tag, false)
	})
	s.subscriptions.Store(queue, sub)

	go s.consume(sub, deliveries)

	return sub, nil
}

func (s *Subscriber) consume(sub *subscription, deliveries <-chan amqp.Delivery) {
	done := sub.Done()
	for {
		select {
		case <-done:
			return
		case d, ok := <-deliveries:
			if !ok {
				// Cancel closes the channel before done is closed
				select {
				case <-done:
					return
				default:
				}
				if sub.cancelled.Load() {
					return
				}
				if log := sub.Options().Logger; log != nil {
					log.Warn("amqp: delivery channel closed", "queue", sub.Topic())
				}
				s.subscriptions.CompareAndDelete(sub.Topic(), sub)
				_ = sub.DefaultSubscription.Unsubscribe()
				// lets consume.ResubscribeErrorHandler open a new consumer
				s.report(sub, ErrDeliveriesClosed)
				return
			}
			s.handle(sub, d)
		}
	}
}

func (s *Subscriber) handle(sub *subscription, d amqp.Delivery) {
	options := sub.Options()
	e := NewEvent(sub.Topic(), d)

	if err := sub.Handler()(e); err != nil {
		s.report(sub, errors.Wrap(err, "cannot handle received message"))
		if options.AutoAck {
			if err = e.(consume.Nacker).Nack(options.Requeue); err != nil {
				s.report(sub, errors.Wrap(err, "cannot nack received message"))
			}
		}
		return
	}
	if options.AutoAck {
		if err := e.Ack(); err != nil {
			s.report(sub, errors.Wrap(err, "cannot auto ack received message"))
		}
	}
}

func (s *Subscriber) report(sub *subscription, err error) {
	options := sub.Options()
	if options.ErrorHandler != nil {
		options.ErrorHandler(err, sub)
		return
	}
	if options.Logger != nil {
		options.Logger.Error("amqp: subscription error", "queue", sub.Topic(), "error", err.Error())
	}
}

type subscription struct {
	subscriber *Subscriber
	cancelled  atomic.Bool
	*consume.DefaultSubscription
}

func (s *subscription) Unsubscribe() error {
	s.cancelled.Store(true)
	s.subscriber.subscriptions.CompareAndDelete(s.Topic(), s)
	if err := s.DefaultSubscription.Unsubscribe(); err != nil {
		return errors.Wrapf(err, "amqp: queue %q", s.Topic())
	}
	return nil
}

var _ consume.Subscriber = (*Subscriber)(nil)
