package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/unitybridge/internal/api"
)

const drainTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, os.Stdout, true)
			if err != nil {
				return err
			}

			srv := api.NewServer(cfg.ListenAddr, a.dispatcher, a.engine.Broker(), a.store, a.logger)
			runErr := srv.Run(cmd.Context())

			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			a.close(ctx)
			return runErr
		},
	}
	cmd.Flags().String("listen-addr", "", "HTTP listen address")
	cmd.Flags().String("db-path", "", "SQLite database path")
	return cmd
}
