package consume

import (
	"context"
	"fmt"
)

// CreateReplyHandler creates a handler that replies to the topic specified by the message header with a message
// that contains the data returned by the passed consumerFunc.
//
// The reply inherits the processing unit context of the request, so publisher middleware
// can propagate the correlation context of the request into the reply.
func CreateReplyHandler[REQ any, RESP any](
	dec Decoder,
	enc Encoder,
	pub Publisher,
	consumerFunc func(ctx context.Context, target REQ) (RESP, error),
	middleware ...Middleware,
) Handler {
	runConsumerFunc := func(ctx context.Context, event Event, target REQ) error {
		resp, err := consumerFunc(ctx, target)
		if err != nil {
			return err
		}
		reqMsg := event.Message()
		replyTopic := reqMsg.Header.GetReplyTo()
		if replyTopic == "" {
			return nil
		}

		msg := NewMessage()
		body, err := enc.Encode(resp)
		if err != nil {
			return fmt.Errorf("cannot encode message body: %w", err)
		}
		msg.Body = body
		msg.Header.SetReplyMessageID(reqMsg.ID)
		if correlationID := reqMsg.Header.GetCorrelationID(); correlationID != "" {
			msg.Header.SetCorrelationID(correlationID)
		}
		msg.SetContext(ctx)

		if err = pub.Publish(replyTopic, msg); err != nil {
			return fmt.Errorf("cannot publish message to the %q topic: %w", replyTopic, err)
		}
		return nil
	}

	return createHandler(dec, runConsumerFunc, middleware...)
}
