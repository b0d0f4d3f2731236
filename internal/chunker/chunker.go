package chunker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/jaywantadh/chunkstore/internal/chunkstore"
	"github.com/jaywantadh/chunkstore/internal/metadata"
)

// Workers converts a parallelism ratio into a number of concurrent chunk
// operations: one per ratio CPUs, at least one.
func Workers(parallelismRatio int) int {
	if parallelismRatio <= 0 {
		parallelismRatio = 2 // Default to 2 if config value is invalid
	}
	numWorkers := runtime.NumCPU() / parallelismRatio
	if numWorkers < 1 {
		numWorkers = 1
	}
	return numWorkers
}

// ChunkAndStore splits the file into store.ChunkLength() pieces and writes
// them to indices 0..n-1. The last chunk is zero-padded; the returned
// manifest records the real file size. At most workers*2 puts are in flight.
func ChunkAndStore(ctx context.Context, filePath string, store *chunkstore.Store, workers int) (metadata.Manifest, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return metadata.Manifest{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return metadata.Manifest{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inFlight := make(chan struct{}, workers*2)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var processErr error

	chunkLength := store.ChunkLength()
	buf := make([]byte, chunkLength)
	index := 0
	for {
		n, err := io.ReadFull(file, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			setErrOnce(&errOnce, &processErr, fmt.Errorf("failed to read chunk: %w", err))
			break
		}
		if n == 0 {
			break
		}
		clear(buf[n:])

		select {
		case inFlight <- struct{}{}:
		case <-ctx.Done():
			setErrOnce(&errOnce, &processErr, ctx.Err())
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		i := index
		store.Put(ctx, i, buf, func(err error) {
			defer wg.Done()
			<-inFlight
			if err != nil {
				setErrOnce(&errOnce, &processErr, fmt.Errorf("failed to store chunk %d: %w", i, err))
				cancel()
			}
		})
		index++

		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	wg.Wait()

	if processErr != nil {
		return metadata.Manifest{}, processErr
	}
	return metadata.NewManifest(filepath.Base(filePath), store.Name(), fileInfo.Size(), chunkLength), nil
}

func setErrOnce(once *sync.Once, target *error, err error) {
	once.Do(func() {
		*target = err
	})
}
