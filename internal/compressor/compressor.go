package compressor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// CompressChunk compresses a chunk with an lz4 frame.
func CompressChunk(chunkData []byte) ([]byte, error) {
	var compressed bytes.Buffer
	writer := lz4.NewWriter(&compressed)
	if _, err := writer.Write(chunkData); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	return compressed.Bytes(), nil
}

// DecompressData reverses CompressChunk.
func DecompressData(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))
	var decompressed bytes.Buffer

	if _, err := io.Copy(&decompressed, reader); err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	return decompressed.Bytes(), nil
}

// Worthwhile reports whether storing compressed instead of raw saves space.
func Worthwhile(raw, compressed []byte) bool {
	return len(compressed) < len(raw)
}
