package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled means the round was cancelled (paused) before finishing.
	// It is an expected outcome, not a failure.
	ErrCancelled = errors.New("upload cancelled")

	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport error")

	// ErrBusy is returned by Start while hashing or uploading, or after completion.
	ErrBusy = errors.New("session is busy")

	// ErrNoFile is returned by Start before a file has been selected.
	ErrNoFile = errors.New("no file selected")
)

// TransportError wraps a failed chunk transmission. Index is -1 when the
// failure happened while assembling the upload rather than sending a chunk.
type TransportError struct {
	Index int
	Err   error
}

func (e *TransportError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error on chunk %d: %v", e.Index, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) true for any *TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
