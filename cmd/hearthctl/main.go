package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/hearthapp/hearth/pkg/localstore"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyStore
	contextKeyLogger
	contextKeySession
)

func getConfig(ctx *cli.Context) *Config {
	return ctx.Context.Value(contextKeyConfig).(*Config)
}

func getStore(ctx *cli.Context) *localstore.Store {
	return ctx.Context.Value(contextKeyStore).(*localstore.Store)
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(zerolog.Logger)
}

func getSession(ctx *cli.Context) localstore.Session {
	return ctx.Context.Value(contextKeySession).(localstore.Session)
}

func prepareApp(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.dataDir(), 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	zerolog.SetGlobalLevel(cfg.logLevel)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	store, err := localstore.Open(ctx.Context, cfg.storePath())
	if err != nil {
		return err
	}

	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyStore, store)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	ctx.Context = newCtx
	return nil
}

func requiresAuth(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	sess, err := getStore(ctx).GetSession(ctx.Context)
	if err != nil {
		if err == localstore.ErrNoSession {
			return fmt.Errorf("you are not logged in — run 'hearthctl login' first")
		}
		return err
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeySession, sess)
	return nil
}

func main() {
	app := &cli.App{
		Name:    "hearthctl",
		Usage:   "Household chat, lists and polls from the terminal",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: defaultConfigPath(),
			},
		},
		Commands: []*cli.Command{
			loginCommand,
			logoutCommand,
			whoamiCommand,
			conversationsCommand,
			chatCommand,
			pollCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
