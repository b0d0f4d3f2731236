// Package badgerstore implements storage.Driver on top of BadgerDB. Every
// database name gets its own badger directory.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkstore/internal/storage"
)

var versionKey = []byte("m/version")

// Options configures a Driver.
type Options struct {
	// Dir holds one badger directory per database. Ignored when InMemory.
	Dir string
	// InMemory keeps databases in memory only; they vanish on Close.
	InMemory bool
	// Codec transforms stored values. Nil stores values as given.
	Codec storage.Codec
	// Logger receives badger's own log output. Nil silences badger.
	Logger *logrus.Entry
}

// Driver is a badger-backed storage.Driver.
type Driver struct {
	opts Options
}

// New creates a Driver.
func New(opts Options) (*Driver, error) {
	if !opts.InMemory {
		if opts.Dir == "" {
			return nil, errors.New("badgerstore: directory is required")
		}
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
	}
	return &Driver{opts: opts}, nil
}

// Ephemeral reports whether databases are discarded on Close.
func (d *Driver) Ephemeral() bool { return d.opts.InMemory }

func (d *Driver) path(name string) string {
	return filepath.Join(d.opts.Dir, name)
}

// Open implements storage.Driver.
func (d *Driver) Open(ctx context.Context, name string, version int, upgrade storage.UpgradeFunc) (storage.Database, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("badgerstore: invalid database name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if d.opts.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(d.path(name))
	}
	if d.opts.Logger != nil {
		opts = opts.WithLogger(d.opts.Logger.WithField("database", name))
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	db := &database{name: name, db: bdb, codec: d.opts.Codec}

	stored, err := db.version()
	if err != nil {
		bdb.Close()
		return nil, err
	}
	switch {
	case stored > version:
		bdb.Close()
		return nil, fmt.Errorf("%w: %s has version %d, requested %d", storage.ErrVersion, name, stored, version)
	case stored < version:
		if upgrade != nil {
			if err := upgrade(db, stored, version); err != nil {
				bdb.Close()
				return nil, fmt.Errorf("upgrade of %s failed: %w", name, err)
			}
		}
		err := bdb.Update(func(txn *badger.Txn) error {
			return txn.Set(versionKey, []byte(strconv.Itoa(version)))
		})
		if err != nil {
			bdb.Close()
			return nil, fmt.Errorf("failed to record version: %w", err)
		}
	}
	return db, nil
}

// Delete implements storage.Driver.
func (d *Driver) Delete(ctx context.Context, name string) error {
	if d.opts.InMemory {
		return nil
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("badgerstore: invalid database name %q", name)
	}
	if err := os.RemoveAll(d.path(name)); err != nil {
		return fmt.Errorf("failed to delete BadgerDB %s: %w", name, err)
	}
	return nil
}

type database struct {
	name  string
	db    *badger.DB
	codec storage.Codec
}

func (db *database) Name() string { return db.name }

func (db *database) version() (int, error) {
	v := 0
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err = strconv.Atoi(string(val))
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return v, nil
}

func collectionKey(collection string) []byte {
	return []byte("m/c/" + collection)
}

func (db *database) CreateCollection(name string) error {
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(collectionKey(name), nil)
	})
}

func (db *database) Transaction(ctx context.Context, collection string, mode storage.Mode, fn func(storage.Txn) error) error {
	if db.db.IsClosed() {
		return storage.ErrClosed
	}
	run := db.db.View
	if mode == storage.ReadWrite {
		run = db.db.Update
	}
	return run(func(btxn *badger.Txn) error {
		if _, err := btxn.Get(collectionKey(collection)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", storage.ErrNoCollection, collection)
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(&txn{txn: btxn, prefix: []byte("c/" + collection + "/"), mode: mode, codec: db.codec})
	})
}

func (db *database) Close() error {
	if db.db.IsClosed() {
		return storage.ErrClosed
	}
	return db.db.Close()
}

type txn struct {
	txn    *badger.Txn
	prefix []byte
	mode   storage.Mode
	codec  storage.Codec
}

// key keeps badger's byte order equal to integer order.
func (t *txn) key(k int) []byte {
	out := make([]byte, len(t.prefix)+8)
	copy(out, t.prefix)
	binary.BigEndian.PutUint64(out[len(t.prefix):], uint64(int64(k))^(1<<63))
	return out
}

func (t *txn) Get(key int) ([]byte, error) {
	item, err := t.txn.Get(t.key(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	stored, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	value, err := storage.Decode(t.codec, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk %d: %w", key, err)
	}
	return value, nil
}

func (t *txn) Put(key int, value []byte) error {
	if t.mode != storage.ReadWrite {
		return storage.ErrReadOnly
	}
	stored, err := storage.Encode(t.codec, value)
	if err != nil {
		return fmt.Errorf("failed to encode chunk %d: %w", key, err)
	}
	return t.txn.Set(t.key(key), stored)
}
