// Package sqlitestore implements storage.Driver with one SQLite file per
// database name and one table per collection.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jaywantadh/chunkstore/internal/storage"
)

// Driver is a SQLite-backed storage.Driver.
type Driver struct {
	dir   string
	codec storage.Codec
}

// New creates a Driver that keeps its database files in dir. codec may be
// nil.
func New(dir string, codec storage.Codec) (*Driver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}
	return &Driver{dir: dir, codec: codec}, nil
}

func (d *Driver) path(name string) string {
	return filepath.Join(d.dir, name+".db")
}

// Open implements storage.Driver.
func (d *Driver) Open(ctx context.Context, name string, version int, upgrade storage.UpgradeFunc) (storage.Database, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("sqlitestore: invalid database name %q", name)
	}

	sdb, err := sql.Open("sqlite3", d.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sdb.PingContext(ctx); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions serial.
	sdb.SetMaxOpenConns(1)
	sdb.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, sdb); err != nil {
		sdb.Close()
		return nil, err
	}

	db := &database{name: name, db: sdb, codec: d.codec}

	var stored int
	if err := sdb.QueryRowContext(ctx, "PRAGMA user_version").Scan(&stored); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	switch {
	case stored > version:
		sdb.Close()
		return nil, fmt.Errorf("%w: %s has version %d, requested %d", storage.ErrVersion, name, stored, version)
	case stored < version:
		if upgrade != nil {
			if err := upgrade(db, stored, version); err != nil {
				sdb.Close()
				return nil, fmt.Errorf("upgrade of %s failed: %w", name, err)
			}
		}
		if _, err := sdb.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			sdb.Close()
			return nil, fmt.Errorf("failed to record version: %w", err)
		}
	}
	return db, nil
}

// Delete implements storage.Driver.
func (d *Driver) Delete(ctx context.Context, name string) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("sqlitestore: invalid database name %q", name)
	}
	base := d.path(name)
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

type database struct {
	name  string
	db    *sql.DB
	codec storage.Codec
}

func (db *database) Name() string { return db.name }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func tableName(collection string) string {
	return quoteIdent("c_" + collection)
}

func (db *database) CreateCollection(name string) error {
	_, err := db.db.Exec("CREATE TABLE IF NOT EXISTS " + tableName(name) +
		" (key INTEGER PRIMARY KEY, value BLOB NOT NULL)")
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (db *database) Transaction(ctx context.Context, collection string, mode storage.Mode, fn func(storage.Txn) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
			return storage.ErrClosed
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", "c_"+collection).Scan(&exists)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to look up collection: %w", err)
	}
	if exists == 0 {
		tx.Rollback()
		return fmt.Errorf("%w: %s", storage.ErrNoCollection, collection)
	}

	t := &txn{ctx: ctx, tx: tx, table: tableName(collection), mode: mode, codec: db.codec}
	if err := fn(t); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (db *database) Close() error {
	return db.db.Close()
}

type txn struct {
	ctx   context.Context
	tx    *sql.Tx
	table string
	mode  storage.Mode
	codec storage.Codec
}

func (t *txn) Get(key int) ([]byte, error) {
	var stored []byte
	err := t.tx.QueryRowContext(t.ctx, "SELECT value FROM "+t.table+" WHERE key = ?", key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", key, err)
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
	_, err = t.tx.ExecContext(t.ctx,
		"INSERT INTO "+t.table+" (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, stored)
	if err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", key, err)
	}
	return nil
}
