package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var errNotConnected = errors.New("unity editor not reachable")

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the Unity editor bridge is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, os.Stderr, false)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			resp := a.dispatcher.CheckConnection(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if !resp.Connected {
				return errNotConnected
			}
			return nil
		},
	}
}
