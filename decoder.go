package consume

import "encoding/json"

// Decoder defines how to decode the given data into a value
type Decoder interface {
	Decode(data []byte, v any) error
}

// DecoderFunc wraps the decoding function to use it as a Decoder
type DecoderFunc func(data []byte, v any) error

func (f DecoderFunc) Decode(data []byte, v any) error {
	return f(data, v)
}

// Encoder defines how to encode message data
type Encoder interface {
	Encode(v any) ([]byte, error)
}

// EncoderFunc wraps the encoding function to use it as an Encoder
type EncoderFunc func(v any) ([]byte, error)

func (f EncoderFunc) Encode(v any) ([]byte, error) {
	return f(v)
}

// JSON codecs used wherever no serializer is configured
var (
	JSONDecoder Decoder = DecoderFunc(json.Unmarshal)
	JSONEncoder Encoder = EncoderFunc(json.Marshal)
)

// Codec pairs an Encoder and a Decoder of the same format
type Codec struct {
	Encoder
	Decoder
}

// JSONCodec returns the codec backed by encoding/json
func JSONCodec() Codec {
	return Codec{Encoder: JSONEncoder, Decoder: JSONDecoder}
}
