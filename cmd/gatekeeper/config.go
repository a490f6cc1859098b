// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Long: `Write the annotated default configuration to the --config path, or to
XDG_CONFIG_HOME/gatekeeper/config.yaml when --config is not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configFile
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err //nolint:wrapcheck // already coded
				}
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a configuration file against the schema and value rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configFile
			if len(args) == 1 {
				path = args[0]
			}
			path, err := config.Resolve(path)
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			if _, err := config.Load(path, nil); err != nil {
				return err //nolint:wrapcheck // already coded
			}
			if path == "" {
				cmd.Println("No config file found; built-in defaults are valid")
				return nil
			}
			cmd.Printf("%s is valid\n", path)
			return nil
		},
	})

	return cmd
}
