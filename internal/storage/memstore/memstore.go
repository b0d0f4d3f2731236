// Package memstore is a process-local storage driver. Databases survive Close
// and live until Delete or until the Driver is dropped. Every call is
// recorded with a sequence number, which makes the driver useful for
// observing the order in which a store talks to its backend.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/jaywantadh/chunkstore/internal/storage"
)

// Operations recorded by the driver.
const (
	OpOpen    = "open"
	OpUpgrade = "upgrade"
	OpCreate  = "create"
	OpGet     = "get"
	OpPut     = "put"
	OpClose   = "close"
	OpDelete  = "delete"
)

// Call is one recorded driver interaction.
type Call struct {
	Seq  uint64
	Op   string
	Name string
	Mode storage.Mode
	Key  int
}

type database struct {
	version     int
	collections map[string]map[int][]byte
}

// Driver is an in-memory storage.Driver.
type Driver struct {
	mu      sync.Mutex
	dbs     map[string]*database
	calls   []Call
	seq     uint64
	gate    chan struct{}
	openErr error
	txnErr  error
}

// New returns an empty Driver.
func New() *Driver {
	return &Driver{dbs: make(map[string]*database)}
}

// Hold makes subsequent Open calls block until the returned function is
// called. Opens already blocked stay blocked until then too.
func (d *Driver) Hold() (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// FailOpen makes every subsequent Open fail with err. A nil err clears it.
func (d *Driver) FailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// FailTransactions makes every subsequent transaction fail with err.
func (d *Driver) FailTransactions(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txnErr = err
}

// Calls returns a snapshot of every recorded call.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsOf returns the recorded calls for op.
func (d *Driver) CallsOf(op string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Exists reports whether a database called name exists.
func (d *Driver) Exists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dbs[name]
	return ok
}

func (d *Driver) record(c Call) {
	d.seq++
	c.Seq = d.seq
	d.calls = append(d.calls, c)
}

// Open implements storage.Driver.
func (d *Driver) Open(ctx context.Context, name string, version int, upgrade storage.UpgradeFunc) (storage.Database, error) {
	d.mu.Lock()
	d.record(Call{Op: OpOpen, Name: name})
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	if err := d.openErr; err != nil {
		d.mu.Unlock()
		return nil, err
	}
	state, ok := d.dbs[name]
	if !ok {
		state = &database{collections: make(map[string]map[int][]byte)}
		d.dbs[name] = state
	}
	stored := state.version
	d.mu.Unlock()

	db := &handle{driver: d, name: name, state: state}
	switch {
	case stored > version:
		return nil, fmt.Errorf("%w: %s has version %d, requested %d", storage.ErrVersion, name, stored, version)
	case stored < version:
		d.mu.Lock()
		d.record(Call{Op: OpUpgrade, Name: name})
		d.mu.Unlock()
		if upgrade != nil {
			if err := upgrade(db, stored, version); err != nil {
				return nil, fmt.Errorf("upgrade of %s failed: %w", name, err)
			}
		}
		d.mu.Lock()
		state.version = version
		d.mu.Unlock()
	}
	return db, nil
}

// Delete implements storage.Driver.
func (d *Driver) Delete(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Op: OpDelete, Name: name})
	delete(d.dbs, name)
	return nil
}

type handle struct {
	driver *Driver
	name   string
	state  *database
	closed bool
}

func (h *handle) Name() string { return h.name }

func (h *handle) CreateCollection(name string) error {
	d := h.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Op: OpCreate, Name: h.name})
	if _, ok := h.state.collections[name]; !ok {
		h.state.collections[name] = make(map[int][]byte)
	}
	return nil
}

func (h *handle) Transaction(ctx context.Context, collection string, mode storage.Mode, fn func(storage.Txn) error) error {
	d := h.driver
	d.mu.Lock()
	if h.closed {
		d.mu.Unlock()
		return storage.ErrClosed
	}
	if err := d.txnErr; err != nil {
		d.mu.Unlock()
		return err
	}
	data, ok := h.state.collections[collection]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNoCollection, collection)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := &txn{h: h, data: data, mode: mode, writes: make(map[int][]byte)}
	if err := fn(txn); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range txn.writes {
		data[k] = v
	}
	return nil
}

func (h *handle) Close() error {
	d := h.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.closed {
		return storage.ErrClosed
	}
	h.closed = true
	d.record(Call{Op: OpClose, Name: h.name})
	return nil
}

type txn struct {
	h      *handle
	data   map[int][]byte
	mode   storage.Mode
	writes map[int][]byte
}

func (t *txn) Get(key int) ([]byte, error) {
	d := t.h.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Op: OpGet, Name: t.h.name, Mode: t.mode, Key: key})
	if v, ok := t.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	v, ok := t.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *txn) Put(key int, value []byte) error {
	if t.mode != storage.ReadWrite {
		return storage.ErrReadOnly
	}
	d := t.h.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Op: OpPut, Name: t.h.name, Mode: t.mode, Key: key})
	t.writes[key] = append([]byte(nil), value...)
	return nil
}
