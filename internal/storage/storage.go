package storage

import (
	"context"
	"errors"
)

// Mode selects the kind of transaction a Database runs.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound is returned by Txn.Get when nothing is stored under a key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrNoCollection is returned when a transaction names a collection that
	// was never created.
	ErrNoCollection = errors.New("storage: collection does not exist")
	// ErrReadOnly is returned by Txn.Put inside a read-only transaction.
	ErrReadOnly = errors.New("storage: write in read-only transaction")
	// ErrClosed is returned by a Database after Close.
	ErrClosed = errors.New("storage: database is closed")
	// ErrVersion is returned by Open when the stored schema is newer than the
	// requested version.
	ErrVersion = errors.New("storage: stored version is newer than requested")
)

// UpgradeFunc is called by Driver.Open when the stored schema version is
// older than the requested one, which includes the first open of a name.
type UpgradeFunc func(db Database, oldVersion, newVersion int) error

// Driver opens and deletes named databases.
type Driver interface {
	// Open opens (or creates) the named database. When the stored version is
	// lower than version, upgrade runs before Open returns and the new version
	// is recorded.
	Open(ctx context.Context, name string, version int, upgrade UpgradeFunc) (Database, error)
	// Delete removes the named database and everything in it. Deleting a
	// database that does not exist is not an error.
	Delete(ctx context.Context, name string) error
}

// Database is an opened named database holding integer-keyed collections.
type Database interface {
	Name() string
	// CreateCollection creates an empty collection. Creating an existing
	// collection is not an error.
	CreateCollection(name string) error
	// Transaction runs fn against collection. Writes made by fn are applied
	// only if fn returns nil.
	Transaction(ctx context.Context, collection string, mode Mode, fn func(Txn) error) error
	Close() error
}

// Txn reads and writes one collection inside a transaction.
type Txn interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(key int) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(key int, value []byte) error
}

// Codec transforms values on their way into and out of a backend.
type Codec interface {
	Encode(value []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

// Encode applies c, treating a nil Codec as the identity.
func Encode(c Codec, value []byte) ([]byte, error) {
	if c == nil {
		return value, nil
	}
	return c.Encode(value)
}

// Decode reverses Encode.
func Decode(c Codec, stored []byte) ([]byte, error) {
	if c == nil {
		return stored, nil
	}
	return c.Decode(stored)
}
