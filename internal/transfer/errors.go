package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by Start while another download is running.
	ErrBusy = errors.New("download already in progress")
	// ErrNoSource is returned for descriptors without a source URI.
	ErrNoSource = errors.New("model has no source uri")
	// ErrAlreadyPresent is returned when the file is already on disk.
	ErrAlreadyPresent = errors.New("model already present")
)

// TransferError wraps a failed fetch or move for one model.
type TransferError struct {
	ModelID string
	Op      string // "fetch" or "move"
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s %s: %v", e.Op, e.ModelID, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsBusy reports whether err signals the single-flight rejection.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsTransferError reports whether err is a failed fetch or move.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
