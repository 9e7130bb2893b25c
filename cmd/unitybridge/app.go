package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/seantiz/unitybridge/internal/config"
	"github.com/seantiz/unitybridge/internal/dispatch"
	"github.com/seantiz/unitybridge/internal/engine"
	"github.com/seantiz/unitybridge/internal/invoker"
	"github.com/seantiz/unitybridge/internal/registry"
	"github.com/seantiz/unitybridge/internal/retry"
	"github.com/seantiz/unitybridge/internal/store"
	"github.com/seantiz/unitybridge/internal/unity"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.SQLiteStore
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
}

// loadConfig reads configuration using the command's flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path, cmd.Flags())
}

// newApp wires the Unity client, registry, engine and dispatcher. Log output
// goes to logOut so the MCP transport can keep stdout clean.
func newApp(cfg config.Config, logOut io.Writer, withStore bool) (*app, error) {
	logger := config.NewLogger(logOut, cfg.LogLevel)

	client := unity.NewClient(unity.ClientConfig{
		Addr:        cfg.UnityAddr,
		DialTimeout: cfg.DialTimeout,
		MaxInFlight: cfg.MaxInFlight,
	}, logger)
	inv := invoker.WithLogging(invoker.WithMetrics(client), logger)

	a := &app{cfg: cfg, logger: logger}

	var st store.Store
	if withStore {
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.store = db
		st = db
	}

	reg := registry.New()
	tools := invoker.DefaultTools()
	a.engine = engine.New(reg, tools, inv, st, engine.Options{
		MaxRetries:  retry.Int(cfg.RetryMaxRetries),
		BaseDelay:   cfg.RetryBaseDelay,
		Exponential: retry.Bool(cfg.RetryExponential),
		CallCeiling: cfg.CallCeiling,
	}, logger)
	a.dispatcher = dispatch.New(reg, a.engine, tools, inv, dispatch.Options{
		DefaultDeadline: cfg.DefaultDeadline,
		Grace:           cfg.DispatchGrace,
		ProbeDelay:      cfg.RetryBaseDelay,
	}, logger)

	logger.Info("unitybridge: configured",
		"unity_addr", cfg.UnityAddr,
		"default_deadline", cfg.DefaultDeadline,
		"max_retries", cfg.RetryMaxRetries,
	)
	return a, nil
}

// close drains in-flight operations and releases the store.
func (a *app) close(ctx context.Context) {
	if err := a.engine.Shutdown(ctx); err != nil {
		a.logger.Warn("engine shutdown incomplete", "error", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
}
