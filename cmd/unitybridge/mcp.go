package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/unitybridge/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool catalogue over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(cfg, os.Stderr, false)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcpserver.New(mcpserver.Config{
				Name:           "unitybridge",
				Version:        version,
				CallsPerMinute: cfg.MCPCallsPerMinute,
			}, a.dispatcher, a.logger)
			runErr := srv.Run(ctx, os.Stdin, os.Stdout)

			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			a.close(drainCtx)
			if ctx.Err() != nil {
				return nil
			}
			return runErr
		},
	}
	cmd.Flags().Int("mcp-calls-per-minute", 0, "rate limit for MCP tool calls")
	return cmd
}
