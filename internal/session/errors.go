package session

import (
	"errors"
	"fmt"
)

var (
	// ErrTurnInFlight is returned when a turn is submitted while another runs.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrBusy is returned while a reset is pending.
	ErrBusy = errors.New("session is resetting")
	// errInvalidOutput marks a turn whose output was discarded.
	errInvalidOutput = errors.New("invalid output")
)

// CompletionError reports that the engine could not begin a completion even
// after the allowed reloads.
type CompletionError struct {
	Attempts int
	Err      error
}

func (e *CompletionError) Error() string {
	msg := fmt.Sprintf("completion could not start after %d attempt(s)", e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompletionError) Unwrap() error { return e.Err }

// IsCompletionError reports whether err is a CompletionError.
func IsCompletionError(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}
