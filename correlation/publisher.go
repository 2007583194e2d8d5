package correlation

import "github.com/velmie/consume"

// PublisherMiddleware writes the correlation context of the message processing unit into
// the outbound header. Messages published outside of a handler carry the zero value of C.
// A header set explicitly by the caller is left untouched.
func PublisherMiddleware[C any](codec *Codec[C]) consume.PublisherMiddleware {
	return func(next consume.Publisher) consume.Publisher {
		return consume.PublisherFunc(func(topic string, msg *consume.Message) error {
			if msg.Header == nil {
				msg.Header = make(consume.Header)
			}
			if _, ok := msg.Header.Lookup(codec.HeaderName()); !ok {
				c, _ := FromContext[C](msg.Context())
				if err := codec.Inject(msg.Header, c); err != nil {
					return err
				}
			}
			return next.Publish(topic, msg)
		})
	}
}
