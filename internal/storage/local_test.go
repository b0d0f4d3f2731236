package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkstore/internal/storage"
	"github.com/jaywantadh/chunkstore/internal/storage/storagetest"
)

func TestLocalDriver(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Driver {
		d, err := storage.NewLocalDriver(t.TempDir(), nil)
		require.NoError(t, err)
		return d
	})
}

func TestLocalDriverLayout(t *testing.T) {
	d, err := storage.NewLocalDriver(t.TempDir(), nil)
	require.NoError(t, err)

	db, err := d.Open(context.Background(), "layout", 1, func(db storage.Database, _, _ int) error {
		return db.CreateCollection("chunks")
	})
	require.NoError(t, err)
	defer db.Close()

	err = db.Transaction(context.Background(), "chunks", storage.ReadWrite, func(txn storage.Txn) error {
		return txn.Put(12, []byte("abc"))
	})
	require.NoError(t, err)

	data, err := os.ReadFile(d.GetPath("layout", "chunks", 12))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestLocalDriverRejectsPathNames(t *testing.T) {
	d, err := storage.NewLocalDriver(t.TempDir(), nil)
	require.NoError(t, err)

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		_, err := d.Open(context.Background(), name, 1, nil)
		assert.Error(t, err, name)
	}
}

func TestLocalDriverClosedDatabase(t *testing.T) {
	d, err := storage.NewLocalDriver(t.TempDir(), nil)
	require.NoError(t, err)

	db, err := d.Open(context.Background(), "closed", 1, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.Transaction(context.Background(), "chunks", storage.ReadOnly, func(storage.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrClosed)
}
