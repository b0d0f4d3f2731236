package chunkstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "get", Store: "chunk_store_2", Index: 9, Kind: ErrIndexNotFound}
	assert.Equal(t, "chunkstore: get chunk_store_2[9]: index not found", err.Error())

	cause := errors.New("disk full")
	err = &Error{Op: "close", Store: "chunk_store", Kind: ErrBackendError, Err: cause}
	assert.Equal(t, "chunkstore: close chunk_store: backend error: disk full", err.Error())
}

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("conflict")
	err := error(&Error{Op: "put", Kind: ErrBackendError, Err: cause})

	assert.ErrorIs(t, err, ErrBackendError)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrIndexNotFound)

	joined := errors.Join(&Error{Op: "close", Kind: ErrAlreadyClosed}, nil)
	assert.ErrorIs(t, joined, ErrAlreadyClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "opening", StateOpening.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateClosed.closed())
	assert.False(t, StateFailed.closed())
}
