package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkstore/config"
	"github.com/jaywantadh/chunkstore/pkg/env"
	"github.com/jaywantadh/chunkstore/pkg/logging"
)

func main() {
	env.LoadEnv()
	logging.InitLogger(false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logging.Log.Fatal(err)
	}
}

// deps is what every command needs once configuration is loaded. The
// configuration itself is config.Config.
type deps struct {
	log *logrus.Entry
}

func newApp() *cli.App {
	rt := &deps{}
	return &cli.App{
		Name:  "chunkstore",
		Usage: "Store fixed-length chunks in a local database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   env.GetEnv("CHUNKSTORE_CONFIG_DIR", "./config"),
				Usage:   "directory holding config.yaml",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if c.Bool("debug") {
				cfg.Debug = true
			}
			logging.InitLogger(cfg.Debug)
			rt.log = logrus.NewEntry(logging.Log).WithField("backend", cfg.Backend)
			return nil
		},
		Commands: []*cli.Command{
			putCommand(rt),
			getCommand(rt),
			importCommand(rt),
			exportCommand(rt),
			listCommand(rt),
			serveCommand(rt),
			destroyCommand(rt),
		},
	}
}
