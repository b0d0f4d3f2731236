package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkstore/config"
	"github.com/jaywantadh/chunkstore/internal/chunker"
	"github.com/jaywantadh/chunkstore/internal/chunkstore"
	"github.com/jaywantadh/chunkstore/internal/metadata"
	"github.com/jaywantadh/chunkstore/pkg/httpserver"
)

var storeFlag = &cli.StringFlag{
	Name:    "store",
	Aliases: []string{"s"},
	Usage:   "store name (defaults to base_name)",
}

func (rt *deps) storeName(c *cli.Context) string {
	if name := c.String("store"); name != "" {
		return name
	}
	return config.Config.BaseName
}

func indexArg(c *cli.Context) (int, error) {
	index, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return 0, fmt.Errorf("invalid chunk index %q: %w", c.Args().Get(0), err)
	}
	return index, nil
}

func putCommand(rt *deps) *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Store the contents of a file as one chunk",
		ArgsUsage: "<index> <file>",
		Flags:     []cli.Flag{storeFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("put needs <index> <file>", 1)
			}
			index, err := indexArg(c)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to read chunk file: %w", err)
			}

			store, err := rt.openStore(rt.storeName(c), config.Config.ChunkLength)
			if err != nil {
				return err
			}
			defer rt.closeStore(c.Context, store)

			if err := store.PutSync(c.Context, index, data); err != nil {
				return err
			}
			rt.log.WithFields(logrus.Fields{"store": store.Name(), "index": index}).Info("chunk stored")
			return nil
		},
	}
}

func getCommand(rt *deps) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Read a chunk, or part of it",
		ArgsUsage: "<index>",
		Flags: []cli.Flag{
			storeFlag,
			&cli.IntFlag{Name: "offset", Usage: "first byte to read"},
			&cli.IntFlag{Name: "length", Usage: "bytes to read, 0 reads to the end"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to this file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("get needs <index>", 1)
			}
			index, err := indexArg(c)
			if err != nil {
				return err
			}

			var opts *chunkstore.ReadOptions
			if c.IsSet("offset") || c.IsSet("length") {
				opts = &chunkstore.ReadOptions{Offset: c.Int("offset"), Length: c.Int("length")}
			}

			store, err := rt.openStore(rt.storeName(c), config.Config.ChunkLength)
			if err != nil {
				return err
			}
			defer rt.closeStore(c.Context, store)

			data, err := store.GetSync(c.Context, index, opts)
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				return os.WriteFile(out, data, 0644)
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}

func importCommand(rt *deps) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Split a file into chunks in a new store",
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("import needs <file>", 1)
			}
			path := c.Args().Get(0)

			manifests, err := rt.openManifests()
			if err != nil {
				return err
			}
			defer manifests.Close()

			name := config.Config.BaseName + "-" + uuid.NewString()[:8]
			store, err := rt.openStore(name, config.Config.ChunkLength)
			if err != nil {
				return err
			}
			defer rt.closeStore(c.Context, store)

			manifest, err := chunker.ChunkAndStore(c.Context, path, store, chunker.Workers(config.Config.ParallelismRatio))
			if err != nil {
				return err
			}
			if err := manifests.PutManifest(manifest); err != nil {
				return fmt.Errorf("failed to save manifest: %w", err)
			}
			rt.log.WithFields(logrus.Fields{
				"file":   manifest.FileName,
				"store":  manifest.StoreName,
				"chunks": manifest.NumChunks,
				"size":   manifest.FileSize,
			}).Info("file imported")
			return nil
		},
	}
}

func exportCommand(rt *deps) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Rebuild an imported file",
		ArgsUsage: "<file> <out>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("export needs <file> <out>", 1)
			}

			manifests, err := rt.openManifests()
			if err != nil {
				return err
			}
			defer manifests.Close()

			manifest, err := manifests.GetManifest(filepath.Base(c.Args().Get(0)))
			if err != nil {
				return err
			}
			store, err := rt.openStore(manifest.StoreName, manifest.ChunkLength)
			if err != nil {
				return err
			}
			defer rt.closeStore(c.Context, store)

			out := c.Args().Get(1)
			if err := chunker.ReassembleFile(c.Context, manifest, store, out, chunker.Workers(config.Config.ParallelismRatio)); err != nil {
				return err
			}
			rt.log.WithFields(logrus.Fields{"file": manifest.FileName, "out": out}).Info("file exported")
			return nil
		},
	}
}

func listCommand(rt *deps) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List imported files",
		Action: func(c *cli.Context) error {
			manifests, err := rt.openManifests()
			if err != nil {
				return err
			}
			defer manifests.Close()

			all, err := manifests.ListManifests()
			if err != nil {
				return err
			}
			for _, m := range all {
				fmt.Fprintf(c.App.Writer, "%s\t%s\t%d bytes\t%d chunks\n", m.FileName, m.StoreName, m.FileSize, m.NumChunks)
			}
			return nil
		},
	}
}

func serveCommand(rt *deps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a store over HTTP",
		Flags: []cli.Flag{
			storeFlag,
			&cli.StringFlag{Name: "listen", Usage: "listen address (defaults to listen_addr)"},
		},
		Action: func(c *cli.Context) error {
			addr := c.String("listen")
			if addr == "" {
				addr = config.Config.ListenAddr
			}

			store, err := rt.openStore(rt.storeName(c), config.Config.ChunkLength)
			if err != nil {
				return err
			}
			defer rt.closeStore(c.Context, store)

			return httpserver.New(store, rt.log).ListenAndServe(c.Context, addr)
		},
	}
}

func destroyCommand(rt *deps) *cli.Command {
	return &cli.Command{
		Name:  "destroy",
		Usage: "Delete a store and everything in it",
		Flags: []cli.Flag{
			storeFlag,
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "destroy the store of an imported file and forget it"},
		},
		Action: func(c *cli.Context) error {
			name := rt.storeName(c)
			chunkLength := config.Config.ChunkLength

			var manifests *metadata.ManifestStore
			file := c.String("file")
			if file != "" {
				var err error
				if manifests, err = rt.openManifests(); err != nil {
					return err
				}
				defer manifests.Close()
				m, err := manifests.GetManifest(file)
				if err != nil {
					return err
				}
				name, chunkLength = m.StoreName, m.ChunkLength
			}

			store, err := rt.openStore(name, chunkLength)
			if err != nil {
				return err
			}
			if err := store.DestroySync(c.Context); err != nil {
				return err
			}
			if manifests != nil {
				if err := manifests.DeleteManifest(file); err != nil && !errors.Is(err, metadata.ErrManifestNotFound) {
					return err
				}
			}
			rt.log.WithField("store", name).Info("store destroyed")
			return nil
		},
	}
}
