// Command phonehub runs the voice call hub and offers operator tooling
// around it: placing calls, inspecting context tokens and issuing API tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phonehub/phonehub/internal/app"
)

var envFile string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "phonehub",
		Short:        "Voice call hub answering and placing calls as an AI assistant",
		Version:      app.Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to a .env file (missing file is ignored)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCallCmd(),
		buildTokenCmd(),
		buildPersonasCmd(),
	)
	return rootCmd
}
