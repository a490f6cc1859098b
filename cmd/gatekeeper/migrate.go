// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply, revert and inspect the embedded gatekeeper schema migrations.
Running migrate without a subcommand applies all pending migrations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, migrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, migrateUp)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations (all of them unless --steps is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, func(cmd *cobra.Command, m Migrator) error {
				return migrateDown(cmd, m, steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to revert (0 = all)")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, migrateStatus)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, migrateVersion)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied and clear the dirty flag",
		Long: `Record VERSION as the applied schema version without running any
migration. Use this only after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, opts, func(cmd *cobra.Command, m Migrator) error {
				if err := m.Force(version); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator opens a migrator for the configured database, runs fn and
// closes it.
func withMigrator(cmd *cobra.Command, opts *rootOptions, fn func(*cobra.Command, Migrator) error) (err error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	databaseURL, err := requireDatabaseURL(cfg)
	if err != nil {
		return err
	}

	m, err := opts.deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(cmd, m)
}

func migrateUp(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return oops.With("operation", "run migrations").Wrap(err)
	}
	return printVersion(cmd, m, "Migrations completed successfully")
}

func migrateDown(cmd *cobra.Command, m Migrator, steps int) error {
	switch {
	case steps < 0:
		return oops.Code("INVALID_STEPS").Errorf("steps must be non-negative, got %d", steps)
	case steps == 0:
		cmd.Println("Reverting all migrations...")
		if err := m.Down(); err != nil {
			return oops.With("operation", "revert migrations").Wrap(err)
		}
	default:
		cmd.Printf("Reverting %d migration(s)...\n", steps)
		if err := m.Steps(-steps); err != nil {
			return oops.With("operation", "revert migrations").Wrap(err)
		}
	}
	return printVersion(cmd, m, "Revert completed")
}

func migrateStatus(cmd *cobra.Command, m Migrator) error {
	st, err := m.Status()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	dirty := ""
	if st.Dirty {
		dirty = " (dirty)"
	}
	cmd.Printf("Current version: %d%s\n", st.Current, dirty)
	for _, mig := range st.Applied {
		cmd.Printf("  [applied] %06d_%s\n", mig.Version, mig.Name)
	}
	for _, mig := range st.Pending {
		cmd.Printf("  [pending] %06d_%s\n", mig.Version, mig.Name)
	}
	if len(st.Pending) == 0 {
		cmd.Println("Schema is up to date")
	}
	return nil
}

func migrateVersion(cmd *cobra.Command, m Migrator) error {
	return printVersion(cmd, m, "")
}

func printVersion(cmd *cobra.Command, m Migrator, prefix string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if prefix != "" {
		cmd.Println(prefix)
	}
	if dirty {
		cmd.Printf("Schema version: %d (dirty)\n", version)
	} else {
		cmd.Printf("Schema version: %d\n", version)
	}
	return nil
}

// parseForceVersion reads a leading integer from s. Trailing characters
// after the number are ignored.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}
