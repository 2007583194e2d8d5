package consume

//go:generate go run go.uber.org/mock/mockgen@v0.4.0 -source publisher.go -destination ./mock/publisher.go

// Publisher allows publishing to a specific topic
type Publisher interface {
	Publish(topic string, message *Message) error
}

// PublisherFunc adapts an ordinary function to the Publisher interface
type PublisherFunc func(topic string, message *Message) error

func (f PublisherFunc) Publish(topic string, message *Message) error {
	return f(topic, message)
}

// PublisherMiddleware decorates a Publisher, e.g. to inject headers into outbound messages
type PublisherMiddleware func(Publisher) Publisher

// ChainPublisher wraps p with the given middleware, the first one being the outermost.
func ChainPublisher(p Publisher, middleware ...PublisherMiddleware) Publisher {
	for i := len(middleware) - 1; i >= 0; i-- {
		if middleware[i] == nil {
			continue
		}
		p = middleware[i](p)
	}
	return p
}
