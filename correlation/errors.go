package correlation

import "fmt"

type Error string

func (e Error) Error() string {
	return string(e)
}

// ErrContextDecode matches every *DecodeError
const ErrContextDecode = Error("correlation: unable to decode message context")

// DecodeError is returned when the context header is present but cannot be deserialized
type DecodeError struct {
	Header string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s from header %q: %s", ErrContextDecode, e.Header, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrContextDecode
}
