// unitybridge exposes Unity editor operations over HTTP and MCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "unitybridge",
		Short:         "Bridge tool calls to a running Unity editor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a config file (default $UNITYBRIDGE_CONFIG)")
	root.PersistentFlags().String("unity-addr", "", "host:port of the Unity editor bridge")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	root.PersistentFlags().Duration("default-deadline", 0, "deadline applied when a call names none")

	root.AddCommand(newServeCmd(), newMCPCmd(), newProbeCmd())
	return root
}
