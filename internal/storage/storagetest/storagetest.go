// Package storagetest holds behaviour checks shared by every storage driver.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkstore/internal/storage"
)

const collection = "chunks"

// Run exercises driver against the storage contract. newDriver must return a
// driver with no existing databases.
func Run(t *testing.T, newDriver func(t *testing.T) storage.Driver) {
	t.Run("UpgradeOnFirstOpen", func(t *testing.T) { testUpgradeOnFirstOpen(t, newDriver(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newDriver(t)) })
	t.Run("ReadOnlyRejectsWrites", func(t *testing.T) { testReadOnly(t, newDriver(t)) })
	t.Run("MissingCollection", func(t *testing.T) { testMissingCollection(t, newDriver(t)) })
	t.Run("FailedTransactionDiscardsWrites", func(t *testing.T) { testRollback(t, newDriver(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newDriver(t)) })
	t.Run("NamesAreIsolated", func(t *testing.T) { testIsolation(t, newDriver(t)) })
}

func open(t *testing.T, d storage.Driver, name string) storage.Database {
	t.Helper()
	db, err := d.Open(context.Background(), name, 1, func(db storage.Database, _, _ int) error {
		return db.CreateCollection(collection)
	})
	require.NoError(t, err)
	return db
}

func put(t *testing.T, db storage.Database, key int, value []byte) {
	t.Helper()
	err := db.Transaction(context.Background(), collection, storage.ReadWrite, func(txn storage.Txn) error {
		return txn.Put(key, value)
	})
	require.NoError(t, err)
}

func get(db storage.Database, key int) ([]byte, error) {
	var out []byte
	err := db.Transaction(context.Background(), collection, storage.ReadOnly, func(txn storage.Txn) error {
		v, err := txn.Get(key)
		out = v
		return err
	})
	return out, err
}

func testUpgradeOnFirstOpen(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	calls := 0
	upgrade := func(db storage.Database, oldVersion, newVersion int) error {
		calls++
		assert.Equal(t, 0, oldVersion)
		assert.Equal(t, 1, newVersion)
		return db.CreateCollection(collection)
	}

	db, err := d.Open(ctx, "upgrade", 1, upgrade)
	require.NoError(t, err)
	assert.Equal(t, "upgrade", db.Name())
	require.NoError(t, db.Close())

	if persistent(d) {
		db, err = d.Open(ctx, "upgrade", 1, upgrade)
		require.NoError(t, err)
		require.NoError(t, db.Close())
		assert.Equal(t, 1, calls, "upgrade must only run for a new or older database")

		_, err = d.Open(ctx, "upgrade", 0, upgrade)
		assert.True(t, errors.Is(err, storage.ErrVersion))
	}
}

func testRoundTrip(t *testing.T, d storage.Driver) {
	db := open(t, d, "roundtrip")
	defer db.Close()

	put(t, db, 0, []byte{1, 2, 3, 4})
	put(t, db, -7, []byte("negative"))
	put(t, db, 1<<40, []byte("large"))

	v, err := get(db, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, v)

	v, err = get(db, -7)
	require.NoError(t, err)
	assert.Equal(t, []byte("negative"), v)

	v, err = get(db, 1<<40)
	require.NoError(t, err)
	assert.Equal(t, []byte("large"), v)

	put(t, db, 0, []byte{9, 9, 9, 9})
	v, err = get(db, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, v, "put must overwrite")

	_, err = get(db, 42)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	v[0] = 0
	again, err := get(db, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(9), again[0], "returned values must be copies")
}

func testReadOnly(t *testing.T, d storage.Driver) {
	db := open(t, d, "readonly")
	defer db.Close()

	err := db.Transaction(context.Background(), collection, storage.ReadOnly, func(txn storage.Txn) error {
		return txn.Put(1, []byte("x"))
	})
	assert.True(t, errors.Is(err, storage.ErrReadOnly))
}

func testMissingCollection(t *testing.T, d storage.Driver) {
	db := open(t, d, "missing")
	defer db.Close()

	err := db.Transaction(context.Background(), "nope", storage.ReadOnly, func(txn storage.Txn) error {
		_, err := txn.Get(0)
		return err
	})
	assert.True(t, errors.Is(err, storage.ErrNoCollection))
}

func testRollback(t *testing.T, d storage.Driver) {
	db := open(t, d, "rollback")
	defer db.Close()

	boom := errors.New("boom")
	err := db.Transaction(context.Background(), collection, storage.ReadWrite, func(txn storage.Txn) error {
		if err := txn.Put(3, []byte("lost")); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = get(db, 3)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testDelete(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	db := open(t, d, "deleted")
	put(t, db, 5, []byte("gone"))
	require.NoError(t, db.Close())

	require.NoError(t, d.Delete(ctx, "deleted"))
	require.NoError(t, d.Delete(ctx, "deleted"), "deleting twice is not an error")

	db = open(t, d, "deleted")
	defer db.Close()
	_, err := get(db, 5)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testIsolation(t *testing.T, d storage.Driver) {
	a := open(t, d, "iso_a")
	defer a.Close()
	b := open(t, d, "iso_b")
	defer b.Close()

	put(t, a, 0, []byte("a"))
	_, err := get(b, 0)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

// Ephemeral is implemented by drivers whose databases do not outlive Close.
type Ephemeral interface {
	Ephemeral() bool
}

func persistent(d storage.Driver) bool {
	e, ok := d.(Ephemeral)
	return !ok || !e.Ephemeral()
}
