package dedup

import (
	"errors"
	"fmt"
)

type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrBackendUnavailable matches every *BackendUnavailableError
	ErrBackendUnavailable = Error("dedup: backend unavailable")
	// ErrMissingMessageID matches every *MissingMessageIDError
	ErrMissingMessageID = Error("dedup: message id is missing")
	// ErrInvalidMessageID is returned by the default id validator
	ErrInvalidMessageID = Error("dedup: invalid message id")
)

// BackendUnavailableError reports that the dedup store could not be reached.
// The delivery must be left unacknowledged so the transport retries it.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrBackendUnavailable, e.Op, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// Unavailable wraps err as a *BackendUnavailableError unless it already is one.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var bu *BackendUnavailableError
	if errors.As(err, &bu) {
		return err
	}
	return &BackendUnavailableError{Op: op, Err: err}
}

// MissingMessageIDError is returned by the middleware in MissingIDFailClosed mode.
type MissingMessageIDError struct {
	Topic string
}

func (e *MissingMessageIDError) Error() string {
	return fmt.Sprintf("%s (topic %q)", ErrMissingMessageID, e.Topic)
}

func (e *MissingMessageIDError) Is(target error) bool {
	return target == ErrMissingMessageID
}
