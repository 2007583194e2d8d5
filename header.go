// Package consume is the consumer-side core of a message broker integration:
// handlers, middleware, headers and the processing unit attached to every delivery.
package consume

import "strconv"

const (
	// HdrMessageID carries the producer assigned message identifier for transports
	// which do not have a dedicated property for it.
	HdrMessageID = "Message-Id"
	// HdrReplyTo is the constant used to represent the header key for the reply topic.
	HdrReplyTo    = "Reply-To"
	HdrReplyMsgID = "Reply-Message-Id"
	HdrCreatedAt  = "Created-At"
	// HdrCorrelationID is the unique identifier used to track and correlate messages as they flow through a system
	HdrCorrelationID = "Correlation-Id"
	// HdrInstanceID identifies the service instance which produced the message.
	HdrInstanceID = "Instance-Id"
	// HdrRetryCount is the number of times the retry-later mechanism has recycled the message.
	HdrRetryCount = "Retry-Count"
)

// Header represents a set of key-value pairs
type Header map[string]string

// Get retrieves the value associated with the provided key from the header.
// Returns an empty string if the key does not exist.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[key]
}

// Lookup is like Get but also reports whether the key is present.
func (h Header) Lookup(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[key]
	return v, ok
}

// Set assigns the provided value to the provided key in the header.
func (h Header) Set(key, value string) {
	h[key] = value
}

// Clone returns a copy of the header which can be mutated independently.
func (h Header) Clone() Header {
	c := make(Header, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

// SetReplyTo sets the reply topic in the header using a predefined key.
func (h Header) SetReplyTo(topic string) {
	h.Set(HdrReplyTo, topic)
}

// GetReplyTo retrieves the reply topic value from the header.
func (h Header) GetReplyTo() string {
	return h.Get(HdrReplyTo)
}

// SetReplyMessageID sets the reply message id in the header using a predefined key.
func (h Header) SetReplyMessageID(id string) {
	h.Set(HdrReplyMsgID, id)
}

// GetReplyMessageID retrieves the reply message id value from the header.
func (h Header) GetReplyMessageID() string {
	return h.Get(HdrReplyMsgID)
}

// SetCreatedAt sets the creation timestamp (unix time) in the header using a predefined key.
func (h Header) SetCreatedAt(timestamp int64) {
	h.Set(HdrCreatedAt, strconv.FormatInt(timestamp, 10))
}

// GetCreatedAt retrieves the creation timestamp from the header.
// Returns 0 if the creation timestamp is not set.
func (h Header) GetCreatedAt() int64 {
	v := h.Get(HdrCreatedAt)
	if v == "" {
		return 0
	}
	timestamp, _ := strconv.ParseInt(v, 10, 64)
	return timestamp
}

// SetCorrelationID sets the correlation id in the header using a predefined key.
func (h Header) SetCorrelationID(id string) {
	h.Set(HdrCorrelationID, id)
}

// GetCorrelationID retrieves the correlation id value from the header.
func (h Header) GetCorrelationID() string {
	return h.Get(HdrCorrelationID)
}

// SetInstanceID sets the instance identifier in the header using a predefined key.
func (h Header) SetInstanceID(id string) {
	h.Set(HdrInstanceID, id)
}

// GetInstanceID retrieves the instance identifier value from the header.
func (h Header) GetInstanceID() string {
	return h.Get(HdrInstanceID)
}

// SetRetryCount stores the retry attempt counter.
func (h Header) SetRetryCount(n int) {
	h.Set(HdrRetryCount, strconv.Itoa(n))
}

// GetRetryCount returns the retry attempt counter and whether a valid one is present.
func (h Header) GetRetryCount() (int, bool) {
	v, ok := h.Lookup(HdrRetryCount)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
