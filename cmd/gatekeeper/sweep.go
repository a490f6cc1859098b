// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired tokens, sessions and idle throttle records once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(a *app) error {
				res, err := a.registry.Sweep(cmd.Context())
				if err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				cmd.Printf("Swept %d token(s), %d session(s), %d throttle record(s)\n",
					res.Tokens, res.Sessions, res.Throttle)
				return nil
			})
		},
	}
}
