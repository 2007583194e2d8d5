// Package amqpconsume connects consume handlers to RabbitMQ through github.com/streadway/amqp.
package amqpconsume

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/velmie/consume"
)

const headerXDeath = "x-death"

type event struct {
	queue    string
	message  *consume.Message
	delivery amqp.Delivery
	retries  int
	settled  bool
}

// NewEvent converts a delivery into a consume.Event.
//
// Only string and []byte header values are copied into the message header, values of
// other types are treated as absent. The event implements consume.Nacker and
// retry.Counter; the retry count comes from the Retry-Count header or, when it is
// missing, from the x-death header maintained by RabbitMQ dead lettering.
func NewEvent(queue string, d amqp.Delivery) consume.Event {
	return &event{
		queue:    queue,
		message:  newMessage(d),
		delivery: d,
		retries:  retryCount(d.Headers),
	}
}

func (e *event) Topic() string {
	return e.queue
}

func (e *event) Message() *consume.Message {
	return e.message
}

// Ack is a no-op once the delivery has been acknowledged or rejected
func (e *event) Ack() error {
	if e.settled {
		return nil
	}
	if err := e.delivery.Ack(false); err != nil {
		return errors.Wrap(err, "amqp: ack")
	}
	e.settled = true
	return nil
}

func (e *event) Nack(requeue bool) error {
	if e.settled {
		return nil
	}
	if err := e.delivery.Nack(false, requeue); err != nil {
		return errors.Wrap(err, "amqp: nack")
	}
	e.settled = true
	return nil
}

func (e *event) Retries() int {
	return e.retries
}

func newMessage(d amqp.Delivery) *consume.Message {
	header := make(consume.Header, len(d.Headers)+3)
	for k, v := range d.Headers {
		switch value := v.(type) {
		case string:
			header[k] = value
		case []byte:
			header[k] = string(value)
		}
	}
	if d.CorrelationId != "" {
		if _, ok := header.Lookup(consume.HdrCorrelationID); !ok {
			header.SetCorrelationID(d.CorrelationId)
		}
	}
	if d.ReplyTo != "" {
		if _, ok := header.Lookup(consume.HdrReplyTo); !ok {
			header.SetReplyTo(d.ReplyTo)
		}
	}
	if !d.Timestamp.IsZero() {
		if _, ok := header.Lookup(consume.HdrCreatedAt); !ok {
			header.SetCreatedAt(d.Timestamp.Unix())
		}
	}
	if _, ok := d.Headers[consume.HdrRetryCount]; ok {
		// numeric values are normalized so the header agrees with Retries()
		header.SetRetryCount(retryCount(d.Headers))
	}

	return &consume.Message{
		ID:     d.MessageId,
		Header: header,
		Body:   d.Body,
	}
}

func retryCount(headers amqp.Table) int {
	if n, ok := toInt(headers[consume.HdrRetryCount]); ok && n >= 0 {
		return n
	}
	deaths, ok := headers[headerXDeath].([]interface{})
	if !ok {
		return 0
	}
	highest := 0
	for _, d := range deaths {
		table, ok := d.(amqp.Table)
		if !ok {
			continue
		}
		if n, ok := toInt(table["count"]); ok && n > highest {
			highest = n
		}
	}
	return highest
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	case []byte:
		i, err := strconv.Atoi(string(n))
		return i, err == nil
	}
	return 0, false
}

// ToPublishing converts an outbound message. Header values are sent as strings,
// the id, correlation id and reply topic are also copied into the AMQP properties.
func ToPublishing(msg *consume.Message) amqp.Publishing {
	headers := make(amqp.Table, len(msg.Header))
	for k, v := range msg.Header {
		headers[k] = v
	}
	p := amqp.Publishing{
		Headers:       headers,
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: msg.Header.GetCorrelationID(),
		ReplyTo:       msg.Header.GetReplyTo(),
		Body:          msg.Body,
	}
	if ts := msg.Header.GetCreatedAt(); ts > 0 {
		p.Timestamp = time.Unix(ts, 0)
	}
	return p
}
