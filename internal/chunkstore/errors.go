package chunkstore

import (
	"errors"
	"fmt"
)

// Error kinds. Every error a Store delivers matches exactly one of these
// with errors.Is.
var (
	ErrInvalidChunkLength = errors.New("invalid chunk length")
	ErrIndexNotFound      = errors.New("index not found")
	ErrInvalidRange       = errors.New("invalid range")
	ErrStorageClosed      = errors.New("storage is closed")
	ErrAlreadyClosed      = errors.New("storage already closed")
	ErrBackendOpenFailed  = errors.New("backend open failed")
	ErrBackendError       = errors.New("backend error")
	// ErrCanceled is reported when the context passed to Get or Put ends
	// before the operation completes.
	ErrCanceled = errors.New("operation canceled")
)

// Error describes a failed Store operation. Kind is one of the Err* values
// above; Err, when set, is the underlying cause.
type Error struct {
	Op    string
	Store string
	Index int
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	msg := "chunkstore: " + e.Op
	if e.Store != "" {
		msg += " " + e.Store
	}
	if e.Op == "get" || e.Op == "put" {
		msg += fmt.Sprintf("[%d]", e.Index)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
