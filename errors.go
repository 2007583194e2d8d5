package consume

type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	AlreadySubscribed = Error("already subscribed")
	ErrNilHandler     = Error("handler must not be nil")
)
