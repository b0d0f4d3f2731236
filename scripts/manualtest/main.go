package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkstore/config"
	"github.com/jaywantadh/chunkstore/internal/chunker"
	"github.com/jaywantadh/chunkstore/internal/chunkstore"
	"github.com/jaywantadh/chunkstore/internal/codec"
	"github.com/jaywantadh/chunkstore/internal/storage/badgerstore"
	"github.com/jaywantadh/chunkstore/pkg/logging"
)

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func main() {
	inputPath := filepath.Join("samples", "ABC.pdf")
	if len(os.Args) > 1 {
		inputPath = os.Args[1]
	}
	if _, err := os.Stat(inputPath); err != nil {
		fmt.Printf("❌ Sample file not found: %v\n", err)
		return
	}

	cfg, err := config.LoadConfig("./config")
	if err != nil {
		fmt.Printf("❌ Config load failed: %v\n", err)
		return
	}
	logging.InitLogger(cfg.Debug)
	ctx := context.Background()

	origHash, err := sha256File(inputPath)
	if err != nil {
		fmt.Printf("❌ Failed hashing original: %v\n", err)
		return
	}
	fmt.Printf("📄 Original file: %s\n", inputPath)
	fmt.Printf("🔑 Original SHA256: %s\n", origHash)

	c, err := codec.New(codec.Options{Compress: true, Passphrase: "testpass"})
	if err != nil {
		fmt.Printf("❌ Codec init failed: %v\n", err)
		return
	}
	_ = os.RemoveAll("output_chunks")
	driver, err := badgerstore.New(badgerstore.Options{Dir: "output_chunks", Codec: c})
	if err != nil {
		fmt.Printf("❌ Storage init failed: %v\n", err)
		return
	}
	store, err := chunkstore.New(cfg.ChunkLength, chunkstore.Options{
		Driver: driver,
		Namer:  chunkstore.NewNamer("manual"),
		Logger: logrus.NewEntry(logging.Log),
	})
	if err != nil {
		fmt.Printf("❌ Store init failed: %v\n", err)
		return
	}
	defer store.DestroySync(ctx)

	workers := chunker.Workers(cfg.ParallelismRatio)
	manifest, err := chunker.ChunkAndStore(ctx, inputPath, store, workers)
	if err != nil {
		fmt.Printf("❌ ChunkAndStore failed: %v\n", err)
		return
	}
	fmt.Printf("🧩 Chunks created: %d | Store: %s\n", manifest.NumChunks, manifest.StoreName)

	outDir := "reassembled_manual"
	_ = os.MkdirAll(outDir, 0755)
	outPath := filepath.Join(outDir, "reassembled_"+manifest.FileName)
	if err := chunker.ReassembleFile(ctx, manifest, store, outPath, workers); err != nil {
		fmt.Printf("❌ Reassemble failed: %v\n", err)
		return
	}

	reHash, err := sha256File(outPath)
	if err != nil {
		fmt.Printf("❌ Failed hashing reassembled: %v\n", err)
		return
	}
	fmt.Printf("📦 Reassembled file: %s\n", outPath)
	fmt.Printf("🔑 Reassembled SHA256: %s\n", reHash)

	if reHash == origHash {
		fmt.Println("✅ SUCCESS: Reassembled file matches original")
	} else {
		fmt.Println("❌ MISMATCH: Reassembled file differs from original")
	}
}
