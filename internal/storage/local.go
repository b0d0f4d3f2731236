package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const versionFile = "VERSION"

// LocalDriver stores each database as a directory on the local filesystem.
// Collections are subdirectories and every key is a file named "<key>.chunk".
type LocalDriver struct {
	basePath string
	codec    Codec

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewLocalDriver creates a LocalDriver rooted at basePath. codec may be nil.
func NewLocalDriver(basePath string, codec Codec) (*LocalDriver, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalDriver{
		basePath: basePath,
		codec:    codec,
		locks:    make(map[string]*sync.RWMutex),
	}, nil
}

// Open opens or creates the database directory for name.
func (d *LocalDriver) Open(ctx context.Context, name string, version int, upgrade UpgradeFunc) (Database, error) {
	if err := checkPathElement(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(d.basePath, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db := &localDatabase{name: name, dir: dir, codec: d.codec, lock: d.lockFor(name)}

	db.lock.Lock()
	defer db.lock.Unlock()

	stored, err := readVersion(dir)
	if err != nil {
		return nil, err
	}
	switch {
	case stored > version:
		return nil, fmt.Errorf("%w: %s has version %d, requested %d", ErrVersion, name, stored, version)
	case stored < version:
		if upgrade != nil {
			if err := upgrade(db, stored, version); err != nil {
				return nil, fmt.Errorf("upgrade of %s failed: %w", name, err)
			}
		}
		if err := writeFileAtomic(filepath.Join(dir, versionFile), []byte(strconv.Itoa(version))); err != nil {
			return nil, fmt.Errorf("failed to record version: %w", err)
		}
	}
	return db, nil
}

// Delete removes the database directory for name.
func (d *LocalDriver) Delete(ctx context.Context, name string) error {
	if err := checkPathElement(name); err != nil {
		return err
	}
	lock := d.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(filepath.Join(d.basePath, name)); err != nil {
		return fmt.Errorf("failed to delete database %s: %w", name, err)
	}
	return nil
}

// GetPath returns the file that holds key in collection of database name.
func (d *LocalDriver) GetPath(name, collection string, key int) string {
	return filepath.Join(d.basePath, name, collection, chunkFileName(key))
}

func (d *LocalDriver) lockFor(name string) *sync.RWMutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		d.locks[name] = l
	}
	return l
}

type localDatabase struct {
	name  string
	dir   string
	codec Codec
	lock  *sync.RWMutex

	closeMu sync.Mutex
	closed  bool
}

func (db *localDatabase) Name() string { return db.name }

// CreateCollection is called with the database lock held during upgrade.
func (db *localDatabase) CreateCollection(name string) error {
	if err := checkPathElement(name); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(db.dir, name), 0755); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (db *localDatabase) Transaction(ctx context.Context, collection string, mode Mode, fn func(Txn) error) error {
	if db.isClosed() {
		return ErrClosed
	}
	if err := checkPathElement(collection); err != nil {
		return err
	}

	if mode == ReadWrite {
		db.lock.Lock()
		defer db.lock.Unlock()
	} else {
		db.lock.RLock()
		defer db.lock.RUnlock()
	}

	dir := filepath.Join(db.dir, collection)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoCollection, collection)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := &localTxn{dir: dir, codec: db.codec, mode: mode, writes: make(map[int][]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	return txn.commit()
}

func (db *localDatabase) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	if db.closed {
		return ErrClosed
	}
	db.closed = true
	return nil
}

func (db *localDatabase) isClosed() bool {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	return db.closed
}

type localTxn struct {
	dir    string
	codec  Codec
	mode   Mode
	writes map[int][]byte
	order  []int
}

func (t *localTxn) Get(key int) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	data, err := os.ReadFile(filepath.Join(t.dir, chunkFileName(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read chunk file: %w", err)
	}
	value, err := Decode(t.codec, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk %d: %w", key, err)
	}
	return value, nil
}

func (t *localTxn) Put(key int, value []byte) error {
	if t.mode != ReadWrite {
		return ErrReadOnly
	}
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = append([]byte(nil), value...)
	return nil
}

func (t *localTxn) commit() error {
	for _, key := range t.order {
		data, err := Encode(t.codec, t.writes[key])
		if err != nil {
			return fmt.Errorf("failed to encode chunk %d: %w", key, err)
		}
		if err := writeFileAtomic(filepath.Join(t.dir, chunkFileName(key)), data); err != nil {
			return fmt.Errorf("failed to write chunk to file: %w", err)
		}
	}
	return nil
}

func chunkFileName(key int) string {
	return strconv.Itoa(key) + ".chunk"
}

func readVersion(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, versionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt version file: %w", err)
	}
	return v, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func checkPathElement(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.New("storage: invalid name " + strconv.Quote(name))
	}
	return nil
}
