package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/config"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/database"
	"github.com/yarin-zhang/ha-cleveroom-home/migrations"
)

func newMigrateCmd(opts *options) *cobra.Command {
	var down, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list the SQLite store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false, false)
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			switch {
			case status:
			case down:
				if err := db.MigrateDown(ctx, migrations.FS); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
			default:
				if err := db.Migrate(ctx, migrations.FS); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
			}

			applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}
			return printMigrations(cmd.OutOrStdout(), applied, pending)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "only list applied and pending migrations")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func printMigrations(w io.Writer, applied []database.AppliedMigration, pending []database.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED")
	for _, m := range applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\tpending\t\n", m.Version)
	}
	return tw.Flush()
}
