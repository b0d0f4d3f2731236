package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkstore/config"
	"github.com/jaywantadh/chunkstore/internal/chunkstore"
	"github.com/jaywantadh/chunkstore/internal/codec"
	"github.com/jaywantadh/chunkstore/internal/metadata"
	"github.com/jaywantadh/chunkstore/internal/storage"
	"github.com/jaywantadh/chunkstore/internal/storage/badgerstore"
	"github.com/jaywantadh/chunkstore/internal/storage/sqlitestore"
)

// newDriver builds the storage driver selected by cfg.Backend. Every backend
// lives in its own subdirectory of cfg.DataDir.
func newDriver(cfg *config.AppConfig, log *logrus.Entry) (storage.Driver, error) {
	c, err := codec.New(codec.Options{Compress: cfg.Compress, Passphrase: cfg.Passphrase})
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendBadger:
		d, err := badgerstore.New(badgerstore.Options{
			Dir:    filepath.Join(cfg.DataDir, "badger"),
			Codec:  c,
			Logger: log,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.BackendMemory:
		d, err := badgerstore.New(badgerstore.Options{InMemory: true, Codec: c, Logger: log})
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.BackendSQLite:
		d, err := sqlitestore.New(filepath.Join(cfg.DataDir, "sqlite"), c)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.BackendLocal:
		d, err := storage.NewLocalDriver(filepath.Join(cfg.DataDir, "chunks"), c)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openStore opens the store called name. A fresh Namer hands out ordinal 0,
// so the database name is name itself and survives restarts.
func (rt *deps) openStore(name string, chunkLength int) (*chunkstore.Store, error) {
	driver, err := newDriver(config.Config, rt.log)
	if err != nil {
		return nil, err
	}
	return chunkstore.New(chunkLength, chunkstore.Options{
		Driver: driver,
		Namer:  chunkstore.NewNamer(name),
		Logger: rt.log,
	})
}

func (rt *deps) closeStore(ctx context.Context, s *chunkstore.Store) {
	if err := s.CloseSync(ctx); err != nil {
		rt.log.WithError(err).WithField("store", s.Name()).Error("failed to close chunk store")
	}
}

func (rt *deps) openManifests() (*metadata.ManifestStore, error) {
	return metadata.OpenManifestStore(filepath.Join(config.Config.DataDir, "manifests"))
}
