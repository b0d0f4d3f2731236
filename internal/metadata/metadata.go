package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrManifestNotFound is returned when no manifest exists for a file name.
var ErrManifestNotFound = errors.New("manifest not found")

const manifestPrefix = "manifest:"

// Manifest records how a file was laid out in a chunk store.
type Manifest struct {
	FileName    string `json:"file_name"`
	StoreName   string `json:"store_name"`
	FileSize    int64  `json:"file_size"`
	ChunkLength int    `json:"chunk_length"`
	NumChunks   int    `json:"num_chunks"`
	CreatedAt   int64  `json:"created_at"` // Unix timestamp
}

// ManifestStore wraps BadgerDB for manifest operations.
type ManifestStore struct {
	db *badger.DB
}

// OpenManifestStore opens (or creates) a BadgerDB at the given path.
func OpenManifestStore(dbPath string) (*ManifestStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &ManifestStore{db: db}, nil
}

// Close closes the BadgerDB.
func (ms *ManifestStore) Close() error {
	return ms.db.Close()
}

// PutManifest stores a manifest, replacing any previous one for the file.
func (ms *ManifestStore) PutManifest(m Manifest) error {
	key := []byte(manifestPrefix + m.FileName)
	val, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return ms.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// GetManifest retrieves the manifest for fileName.
func (ms *ManifestStore) GetManifest(fileName string) (Manifest, error) {
	key := []byte(manifestPrefix + fileName)
	var m Manifest
	err := ms.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrManifestNotFound, fileName)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	return m, err
}

// ListManifests returns every manifest ordered by file name.
func (ms *ManifestStore) ListManifests() ([]Manifest, error) {
	var out []Manifest
	err := ms.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(manifestPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m Manifest
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// DeleteManifest removes the manifest for fileName.
func (ms *ManifestStore) DeleteManifest(fileName string) error {
	return ms.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(manifestPrefix + fileName))
	})
}

// NewManifest builds a Manifest for a file of fileSize bytes split into
// chunkLength-sized chunks.
func NewManifest(fileName, storeName string, fileSize int64, chunkLength int) Manifest {
	numChunks := 0
	if chunkLength > 0 {
		numChunks = int((fileSize + int64(chunkLength) - 1) / int64(chunkLength))
	}
	return Manifest{
		FileName:    fileName,
		StoreName:   storeName,
		FileSize:    fileSize,
		ChunkLength: chunkLength,
		NumChunks:   numChunks,
		CreatedAt:   time.Now().Unix(),
	}
}
