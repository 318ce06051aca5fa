package kafkax

import "errors"

// ErrNotConnected is returned by Publish when the client never established a
// broker connection. It is a precondition violation, not a transient failure.
var ErrNotConnected = errors.New("kafka: not connected")

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks an error as transient from the consumer's point of view:
// redelivering the same message later may succeed (e.g. a referenced entity
// has not been projected yet). Unmarked errors are treated as permanent and
// routed to the dead-letter topic without burning the retry budget.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}
