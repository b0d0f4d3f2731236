package chunkstore

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkstore/internal/storage"
)

// Options configures New.
type Options struct {
	// Driver opens and deletes the backing database. Required.
	Driver storage.Driver
	// Namer assigns the database name. Defaults to a process-wide Namer
	// based on DefaultBaseName.
	Namer *Namer
	// Logger defaults to the global logging.Log.
	Logger *logrus.Entry
}

// ReadOptions selects part of a stored chunk. Length zero means everything
// from Offset to the end.
type ReadOptions struct {
	Offset int
	Length int
}

func (o *ReadOptions) validate() error {
	if o == nil {
		return nil
	}
	if o.Offset < 0 || o.Length < 0 {
		return fmt.Errorf("offset %d, length %d: must not be negative", o.Offset, o.Length)
	}
	return nil
}

// slice returns the selected part of value. value is returned whole when o
// is nil.
func (o *ReadOptions) slice(value []byte) ([]byte, error) {
	if o == nil {
		return value, nil
	}
	if o.Offset > len(value) {
		return nil, fmt.Errorf("offset %d beyond stored length %d", o.Offset, len(value))
	}
	length := o.Length
	if length == 0 {
		length = len(value) - o.Offset
	}
	// Compared without adding so huge lengths cannot overflow.
	if length > len(value)-o.Offset {
		return nil, fmt.Errorf("offset %d + length %d beyond stored length %d", o.Offset, length, len(value))
	}
	return value[o.Offset : o.Offset+length], nil
}
