// Package correlation carries an application defined correlation context through message
// headers and makes it available to the code handling one delivery.
//
// The context travels serialized in a single header (default "message_context"). On the
// consumer side Middleware decodes it into the processing unit of the message and
// Handler passes it to the business function explicitly. On the producer side
// PublisherMiddleware encodes the context of the processing unit into every outbound
// message.
package correlation

import (
	"fmt"
	"strings"

	"github.com/velmie/consume"
)

// DefaultHeaderName is the header carrying the serialized context
const DefaultHeaderName = "message_context"

// Codec serializes a correlation context of type C to and from a header value
type Codec[C any] struct {
	headerName string
	enc        consume.Encoder
	dec        consume.Decoder
}

type codecOptions struct {
	headerName string
	enc        consume.Encoder
	dec        consume.Decoder
}

// CodecOption configures Codec
type CodecOption func(*codecOptions)

// WithHeaderName sets the header name; a blank name keeps the default
func WithHeaderName(name string) CodecOption {
	return func(o *codecOptions) {
		o.headerName = name
	}
}

// WithSerializer sets both directions at once
func WithSerializer(c consume.Codec) CodecOption {
	return func(o *codecOptions) {
		o.enc = c.Encoder
		o.dec = c.Decoder
	}
}

// WithEncoder replaces the default JSON encoder
func WithEncoder(enc consume.Encoder) CodecOption {
	return func(o *codecOptions) {
		o.enc = enc
	}
}

// WithDecoder replaces the default JSON decoder
func WithDecoder(dec consume.Decoder) CodecOption {
	return func(o *codecOptions) {
		o.dec = dec
	}
}

// NewCodec creates a codec for contexts of type C
func NewCodec[C any](opts ...CodecOption) *Codec[C] {
	o := &codecOptions{
		enc: consume.JSONEncoder,
		dec: consume.JSONDecoder,
	}
	for _, opt := range opts {
		opt(o)
	}
	name := strings.TrimSpace(o.headerName)
	if name == "" {
		name = DefaultHeaderName
	}
	return &Codec[C]{headerName: name, enc: o.enc, dec: o.dec}
}

// HeaderName returns the header the codec reads and writes
func (c *Codec[C]) HeaderName() string {
	return c.headerName
}

// Encode always produces a value; a nil context encodes the zero value of C
func (c *Codec[C]) Encode(v *C) (string, error) {
	if v == nil {
		v = new(C)
	}
	data, err := c.enc.Encode(v)
	if err != nil {
		return "", fmt.Errorf("correlation: unable to encode message context: %w", err)
	}
	return string(data), nil
}

// Decode deserializes a header value, failures are reported as *DecodeError
func (c *Codec[C]) Decode(value string) (*C, error) {
	v := new(C)
	if err := c.dec.Decode([]byte(value), v); err != nil {
		return nil, &DecodeError{Header: c.headerName, Err: err}
	}
	return v, nil
}

// Extract reads the context from the header. A missing header is not an error:
// found is false and the returned context is nil.
func (c *Codec[C]) Extract(h consume.Header) (v *C, found bool, err error) {
	value, ok := h.Lookup(c.headerName)
	if !ok {
		return nil, false, nil
	}
	v, err = c.Decode(value)
	return v, true, err
}

// Inject writes the encoded context into the header
func (c *Codec[C]) Inject(h consume.Header, v *C) error {
	value, err := c.Encode(v)
	if err != nil {
		return err
	}
	h.Set(c.headerName, value)
	return nil
}
