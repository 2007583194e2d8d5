package amqpconsume

import (
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/velmie/consume"
)

// PublishChannel is the subset of *amqp.Channel used by Publisher
type PublishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher publishes to one exchange, the topic is used as the routing key
type Publisher struct {
	ch       PublishChannel
	exchange string
}

// NewPublisher creates a publisher for the exchange
func NewPublisher(ch PublishChannel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

func (p *Publisher) Publish(topic string, message *consume.Message) error {
	consume.SetIDHeader(message)
	if err := p.ch.Publish(p.exchange, topic, false, false, ToPublishing(message)); err != nil {
		return errors.Wrapf(err, "amqp: cannot publish to exchange %q with routing key %q", p.exchange, topic)
	}
	return nil
}

var _ consume.Publisher = (*Publisher)(nil)
