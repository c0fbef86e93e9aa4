package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/TKAles/transfercontrollerdaemon/internal/audit"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/config"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/logging"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
)

// newPositionsCmd manages the taught zone targets without starting the daemon.
func newPositionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show, import or export the taught zone targets",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored zone targets as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(ctx context.Context, store *positions.Store, _ audit.Repository) error {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(store.Load(ctx))
				})
			},
		},
		&cobra.Command{
			Use:   "export <file>",
			Short: "Write the zone targets in transfer_positions.json format",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, store *positions.Store, _ audit.Repository) error {
					store.Load(ctx)
					if err := store.ExportFile(args[0]); err != nil {
						return fmt.Errorf("exporting zone targets: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "exported zone targets to %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Replace every zone target from a transfer_positions.json file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, store *positions.Store, trail audit.Repository) error {
					set, err := store.ImportFile(ctx, args[0])
					e := audit.NewEntry(audit.ActionImportTargets, audit.SourceCLI, currentUser(), err)
					e.Details = map[string]any{"file": args[0]}
					if recErr := trail.Record(ctx, e); recErr != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: audit entry not recorded: %v\n", recErr)
					}
					if err != nil {
						return fmt.Errorf("importing zone targets: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "imported zone targets from %s: %+v\n", args[0], set)
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore opens the configured database and hands fn the position store
// and the audit trail.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *positions.Store, trail audit.Repository) error) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format, Output: "stderr"}, version)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Best effort on exit

	store := positions.NewStore(positions.NewSQLiteRepository(db.DB))
	store.SetLogger(log)
	return fn(ctx, store, audit.NewSQLiteRepository(db.DB))
}

// currentUser names the shell user running a CLI action.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
