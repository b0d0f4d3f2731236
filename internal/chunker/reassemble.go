package chunker

import (
	"context"
	"fmt"
	"os"

	"github.com/jaywantadh/chunkstore/internal/chunkstore"
	"github.com/jaywantadh/chunkstore/internal/metadata"
)

type fetched struct {
	data []byte
	err  error
}

// ReassembleFile reconstructs the file described by manifest from store.
// Up to workers reads run ahead of the writer.
func ReassembleFile(ctx context.Context, manifest metadata.Manifest, store *chunkstore.Store, outputPath string, workers int) error {
	if manifest.ChunkLength != store.ChunkLength() {
		return fmt.Errorf("manifest chunk length %d does not match store chunk length %d",
			manifest.ChunkLength, store.ChunkLength())
	}
	if workers < 1 {
		workers = 1
	}

	outputFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	defer outputFile.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make(chan chan fetched, workers)
	go func() {
		defer close(pending)
		for i := 0; i < manifest.NumChunks; i++ {
			ch := make(chan fetched, 1)
			store.Get(ctx, i, nil, func(data []byte, err error) {
				ch <- fetched{data, err}
			})
			select {
			case pending <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()

	remaining := manifest.FileSize
	index := 0
	for ch := range pending {
		var r fetched
		select {
		case r = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.err != nil {
			return fmt.Errorf("failed to read chunk %d: %w", index, r.err)
		}
		data := r.data
		if int64(len(data)) > remaining {
			data = data[:remaining]
		}
		if _, err := outputFile.Write(data); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", index, err)
		}
		remaining -= int64(len(data))
		index++
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if index != manifest.NumChunks || remaining != 0 {
		return fmt.Errorf("reassembled %d of %d chunks, %d bytes missing", index, manifest.NumChunks, remaining)
	}
	return outputFile.Sync()
}
