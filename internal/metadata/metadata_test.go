package metadata

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestManifestStoreCRUD(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chunkstore_test_manifest_db")

	store, err := OpenManifestStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open manifest store: %v", err)
	}
	defer store.Close()

	m := NewManifest("testfile.txt", "chunk_store", 12345, 4096)
	if m.NumChunks != 4 {
		t.Fatalf("expected 4 chunks, got %d", m.NumChunks)
	}
	if err := store.PutManifest(m); err != nil {
		t.Fatalf("failed to put manifest: %v", err)
	}
	if err := store.PutManifest(NewManifest("another.bin", "chunk_store", 10, 4)); err != nil {
		t.Fatalf("failed to put manifest: %v", err)
	}

	got, err := store.GetManifest("testfile.txt")
	if err != nil {
		t.Fatalf("failed to get manifest: %v", err)
	}
	if got != m {
		t.Errorf("retrieved manifest does not match: %+v != %+v", got, m)
	}

	all, err := store.ListManifests()
	if err != nil {
		t.Fatalf("failed to list manifests: %v", err)
	}
	if len(all) != 2 || all[0].FileName != "another.bin" || all[1].FileName != "testfile.txt" {
		t.Errorf("unexpected manifest list: %+v", all)
	}

	if err := store.DeleteManifest("testfile.txt"); err != nil {
		t.Fatalf("failed to delete manifest: %v", err)
	}
	if _, err := store.GetManifest("testfile.txt"); !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestNewManifestChunkCount(t *testing.T) {
	cases := []struct {
		size   int64
		length int
		want   int
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{8, 4, 2},
	}
	for _, c := range cases {
		if got := NewManifest("f", "s", c.size, c.length).NumChunks; got != c.want {
			t.Errorf("size %d length %d: got %d chunks, want %d", c.size, c.length, got, c.want)
		}
	}
}
