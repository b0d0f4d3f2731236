// Package chunkstore stores fixed-length chunks under integer indices in a
// backend database that opens asynchronously.
//
// A Store can be used as soon as New returns. Operations issued while the
// backend is still opening are queued and run, in the order they were
// issued, once it is ready; nothing issued later can overtake them. Results
// are delivered through callbacks, never from inside the call that
// registered them. While the Store is open every callback runs on its event
// goroutine, in order. Once Close has released the backend, late callbacks
// each run on their own goroutine and are not ordered relative to each
// other. Callbacks must not block waiting on another operation of the same
// Store.
package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkstore/internal/ready"
	"github.com/jaywantadh/chunkstore/internal/scheduler"
	"github.com/jaywantadh/chunkstore/internal/storage"
	"github.com/jaywantadh/chunkstore/pkg/logging"
)

const (
	schemaVersion  = 1
	collectionName = "chunks"
)

// Store is one collection of fixed-length chunks.
type Store struct {
	chunkLength int
	ordinal     uint64
	name        string
	id          string
	driver      storage.Driver
	log         *logrus.Entry

	state atomic.Int32

	// Touched only from the events loop.
	events  *scheduler.Loop
	pending ready.Signal
	openErr error

	// Touched only from the io loop.
	io *scheduler.Loop
	db storage.Database
}

// New creates a Store for chunks of chunkLength bytes and starts opening its
// database. The Store must eventually be closed or destroyed.
func New(chunkLength int, opts Options) (*Store, error) {
	if chunkLength <= 0 {
		return nil, &Error{
			Op:   "new",
			Kind: ErrInvalidChunkLength,
			Err:  fmt.Errorf("chunk length must be positive, got %d", chunkLength),
		}
	}
	if opts.Driver == nil {
		return nil, errors.New("chunkstore: storage driver is required")
	}

	namer := opts.Namer
	if namer == nil {
		namer = defaultNamer
	}
	ordinal, name := namer.Next()

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logging.Logger())
	}

	s := &Store{
		chunkLength: chunkLength,
		ordinal:     ordinal,
		name:        name,
		id:          uuid.NewString(),
		driver:      opts.Driver,
		events:      scheduler.NewLoop(),
		io:          scheduler.NewLoop(),
	}
	s.log = log.WithFields(logrus.Fields{
		"store":    name,
		"ordinal":  ordinal,
		"store_id": s.id,
	})

	s.log.WithField("chunk_length", chunkLength).Debug("opening chunk store")
	s.io.Post(s.open)
	return s, nil
}

// ChunkLength is the exact length every Put must supply.
func (s *Store) ChunkLength() int { return s.chunkLength }

// Name is the backend database name.
func (s *Store) Name() string { return s.name }

// Ordinal is the namespace ordinal the name was derived from.
func (s *Store) Ordinal() uint64 { return s.ordinal }

// ID is a random identifier used to tell stores apart in logs.
func (s *Store) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Store) State() State { return State(s.state.Load()) }

func (s *Store) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Get delivers the chunk stored at index, or the part of it selected by opts.
func (s *Store) Get(ctx context.Context, index int, opts *ReadOptions, cb func([]byte, error)) {
	if cb == nil {
		cb = func([]byte, error) {}
	}
	if opts != nil {
		o := *opts
		opts = &o
	}
	if err := opts.validate(); err != nil {
		err = s.fail("get", index, ErrInvalidRange, err)
		s.events.Post(func() { cb(nil, err) })
		return
	}

	s.whenSettled(func(st State) {
		if kind, cause := s.unavailable(st); kind != nil {
			cb(nil, s.fail("get", index, kind, cause))
			return
		}
		s.io.Post(func() {
			data, err := s.read(ctx, index, opts)
			s.events.Post(func() { cb(data, err) })
		})
	})
}

// Put stores data at index, replacing whatever was there. data must be
// exactly ChunkLength bytes; it is copied before Put returns.
func (s *Store) Put(ctx context.Context, index int, data []byte, cb func(error)) {
	if cb == nil {
		cb = func(error) {}
	}
	if len(data) != s.chunkLength {
		err := s.fail("put", index, ErrInvalidChunkLength,
			fmt.Errorf("got %d bytes, chunk length is %d", len(data), s.chunkLength))
		s.events.Post(func() { cb(err) })
		return
	}
	chunk := bytes.Clone(data)

	s.whenSettled(func(st State) {
		if kind, cause := s.unavailable(st); kind != nil {
			cb(s.fail("put", index, kind, cause))
			return
		}
		s.io.Post(func() {
			err := s.write(ctx, index, chunk)
			s.events.Post(func() { cb(err) })
		})
	})
}

// Close stops the Store. Operations still waiting for the backend to open
// fail with ErrStorageClosed; operations already sent to the backend finish
// first. Closing twice fails with ErrAlreadyClosed.
func (s *Store) Close(cb func(error)) {
	if cb == nil {
		cb = func(error) {}
	}
	s.events.Post(func() { s.close(cb) })
}

// Destroy closes the Store and deletes its database. The delete is attempted
// even when Close fails, for example because the Store was already closed.
// cb receives both errors joined.
func (s *Store) Destroy(cb func(error)) {
	if cb == nil {
		cb = func(error) {}
	}
	s.events.Post(func() {
		s.close(func(closeErr error) {
			if s.transition(StateClosed, StateDestroyed) {
				s.log.Debug("destroying chunk store")
			}
			s.io.Post(func() {
				var err error
				if derr := s.driver.Delete(context.Background(), s.name); derr != nil {
					err = s.fail("destroy", 0, ErrBackendError, derr)
				}
				s.events.Post(func() { cb(errors.Join(closeErr, err)) })
			})
		})
	})
}

// open runs on the io loop.
func (s *Store) open() {
	db, err := s.driver.Open(context.Background(), s.name, schemaVersion, func(db storage.Database, oldVersion, newVersion int) error {
		s.log.WithFields(logrus.Fields{
			"old_version": oldVersion,
			"new_version": newVersion,
		}).Debug("creating chunk collection")
		return db.CreateCollection(collectionName)
	})
	if err != nil {
		s.events.Post(func() { s.openFailed(err) })
		return
	}
	s.db = db
	s.events.Post(s.opened)
}

func (s *Store) opened() {
	if !s.transition(StateOpening, StateReady) {
		// Closed while opening. The handle is released by the io loop.
		return
	}
	s.log.WithField("pending", s.pending.Len()).Debug("chunk store ready")
	s.pending.Fire()
}

func (s *Store) openFailed(err error) {
	s.openErr = err
	if !s.transition(StateOpening, StateFailed) {
		s.log.WithError(err).Warn("backend open failed after close")
		return
	}
	s.log.WithError(err).WithField("pending", s.pending.Len()).Error("backend open failed")
	s.pending.Fire()
}

// whenSettled runs fn on the events loop once the Store has left
// StateOpening, passing the state at that moment. Calls made while opening
// run in the order they were made, ahead of anything issued afterwards.
func (s *Store) whenSettled(fn func(State)) {
	s.events.Post(func() {
		if s.State() == StateOpening {
			s.pending.Subscribe(func() { fn(s.State()) })
			return
		}
		fn(s.State())
	})
}

// unavailable returns the error kind and cause for operations issued in st,
// or a nil kind when st is StateReady.
func (s *Store) unavailable(st State) (error, error) {
	switch st {
	case StateReady:
		return nil, nil
	case StateFailed:
		return ErrBackendOpenFailed, s.openErr
	default:
		return ErrStorageClosed, nil
	}
}

// close runs on the events loop and calls done exactly once.
func (s *Store) close(done func(error)) {
	prev := s.State()
	if prev.closed() {
		done(s.fail("close", 0, ErrAlreadyClosed, nil))
		return
	}
	s.state.Store(int32(StateClosed))
	s.log.WithField("from", prev).Debug("closing chunk store")
	s.pending.Fire()

	if prev == StateOpening {
		s.io.Post(func() {
			if err := s.release(); err != nil {
				s.log.WithError(err).Error("failed to release backend opened after close")
			}
			s.stop()
		})
		done(nil)
		return
	}

	s.io.Post(func() {
		var err error
		if rerr := s.release(); rerr != nil {
			err = s.fail("close", 0, ErrBackendError, rerr)
		}
		s.events.Post(func() { done(err) })
		s.stop()
	})
}

// release runs on the io loop.
func (s *Store) release() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// stop lets both loops drain and exit. Later operations still get their
// callbacks, each from its own goroutine.
func (s *Store) stop() {
	s.io.Stop()
	s.events.Stop()
}

// read runs on the io loop.
func (s *Store) read(ctx context.Context, index int, opts *ReadOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail("get", index, ErrCanceled, err)
	}
	var value []byte
	err := s.db.Transaction(ctx, collectionName, storage.ReadOnly, func(txn storage.Txn) error {
		v, err := txn.Get(index)
		value = v
		return err
	})
	if err != nil {
		return nil, s.backendFailure("get", index, err)
	}
	out, err := opts.slice(value)
	if err != nil {
		return nil, s.fail("get", index, ErrInvalidRange, err)
	}
	return out, nil
}

// write runs on the io loop.
func (s *Store) write(ctx context.Context, index int, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return s.fail("put", index, ErrCanceled, err)
	}
	err := s.db.Transaction(ctx, collectionName, storage.ReadWrite, func(txn storage.Txn) error {
		return txn.Put(index, chunk)
	})
	if err != nil {
		return s.backendFailure("put", index, err)
	}
	return nil
}

func (s *Store) backendFailure(op string, index int, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.fail(op, index, ErrIndexNotFound, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return s.fail(op, index, ErrCanceled, err)
	}
	s.log.WithError(err).WithFields(logrus.Fields{"op": op, "index": index}).Debug("backend transaction failed")
	return s.fail(op, index, ErrBackendError, err)
}

func (s *Store) fail(op string, index int, kind, cause error) error {
	return &Error{Op: op, Store: s.name, Index: index, Kind: kind, Err: cause}
}
