package main

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor TRANSFERD_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// newRootCmd builds the command tree. Running the bare binary serves.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "transferd",
		Short:         "Automated transfer sequencing daemon",
		Long:          `transferd homes the stage, watches the handshake lines and runs transfer cycles between the RoboMet and the SRAS scanner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath(cmd))
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config.yaml (default $TRANSFERD_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(),
		newPositionsCmd(),
		newPortsCmd(),
		newVersionCmd(),
	)
	return root
}

// configPath resolves the configuration file: flag, then environment, then default.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" { //nolint:errcheck // Flag is registered on root
		return path
	}
	if path := os.Getenv("TRANSFERD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
