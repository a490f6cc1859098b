// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/auth"
)

const cliUserAgent = "gatekeeper-cli"

// secretFlags reads a password from --password or, with --password-stdin,
// from the first line of standard input.
type secretFlags struct {
	name      string
	value     string
	fromStdin bool
}

func addSecretFlags(cmd *cobra.Command, s *secretFlags, name, usage string) {
	s.name = name
	cmd.Flags().StringVar(&s.value, name, "", usage)
	cmd.Flags().BoolVar(&s.fromStdin, name+"-stdin", false, "read "+name+" from standard input")
}

func (s *secretFlags) read(cmd *cobra.Command) (string, error) {
	if !s.fromStdin {
		if s.value == "" {
			return "", oops.Code("INVALID_INPUT").With("flag", s.name).Errorf("--%s or --%s-stdin is required", s.name, s.name)
		}
		return s.value, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", oops.Code("INVALID_INPUT").With("flag", s.name).Wrap(err)
		}
		return "", oops.Code("INVALID_INPUT").With("flag", s.name).Errorf("empty %s on standard input", s.name)
	}
	return line, nil
}

func parseAccountID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(strings.TrimSpace(s))
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ACCOUNT_ID").With("input", s).Wrap(err)
	}
	return id, nil
}

// withApp opens the registry for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(*app) error) error {
	a, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newAccountCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
		Long:  `Register accounts and run the sign-in, activation and password workflows.`,
	}

	cmd.AddCommand(newAccountRegisterCmd(opts))
	cmd.AddCommand(newAccountActivateCmd(opts))
	cmd.AddCommand(newAccountLoginCmd(opts))
	cmd.AddCommand(newAccountPasswdCmd(opts))
	cmd.AddCommand(newAccountSendActivationCmd(opts))
	cmd.AddCommand(newAccountForgotCmd(opts))
	cmd.AddCommand(newAccountResetCmd(opts))
	cmd.AddCommand(newAccountShowCmd(opts))

	return cmd
}

func newAccountRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		password     secretFlags
		roles        []string
		activate     bool
		skipActivate bool
	)

	cmd := &cobra.Command{
		Use:   "register LOGIN",
		Short: "Create an account",
		Long: `Create an account. When activation applies, an activation link is sent
through the configured notifier and the account stays pending until it is
activated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if activate && skipActivate {
				return oops.Code("INVALID_INPUT").Errorf("--require-activation and --skip-activation are mutually exclusive")
			}
			secret, err := password.read(cmd)
			if err != nil {
				return err
			}
			mode := auth.ActivationDefault
			switch {
			case activate:
				mode = auth.ActivationRequired
			case skipActivate:
				mode = auth.ActivationSkipped
			}

			return withApp(cmd, opts, func(a *app) error {
				reg, err := a.registry.Register(cmd.Context(), auth.RegisterRequest{
					Login:        args[0],
					Password:     secret,
					Roles:        roles,
					Activation:   mode,
					LinkTemplate: a.cfg.Links.Activation,
					UserAgent:    cliUserAgent,
				})
				if reg != nil {
					cmd.Printf("Registered account %s (%s)\n", reg.Account.ID, reg.Account.Status)
					if len(reg.Account.Roles) > 0 {
						cmd.Printf("Roles: %s\n", strings.Join(reg.Account.Roles, ", "))
					}
					if reg.Session != nil {
						printSession(cmd, reg.Session, reg.SessionToken)
					}
				}
				if err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				return nil
			})
		},
	}

	addSecretFlags(cmd, &password, "password", "account password")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable)")
	cmd.Flags().BoolVar(&activate, "require-activation", false, "require activation regardless of config")
	cmd.Flags().BoolVar(&skipActivate, "skip-activation", false, "create the account active regardless of config")

	return cmd
}

func newAccountActivateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate ACCOUNT_ID CODE",
		Short: "Activate a pending account with its activation code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				if err := a.registry.Activate(cmd.Context(), id, args[1]); err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				cmd.Printf("Account %s activated\n", id)
				return nil
			})
		},
	}
}

func newAccountLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		password   secretFlags
		rememberMe bool
		origin     string
	)

	cmd := &cobra.Command{
		Use:   "login LOGIN",
		Short: "Sign in and print a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := password.read(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				session, token, err := a.registry.Login(cmd.Context(), auth.LoginRequest{
					Login:      args[0],
					Password:   secret,
					RememberMe: rememberMe,
					UserAgent:  cliUserAgent,
					Origin:     origin,
				})
				if err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				printSession(cmd, session, token)
				return nil
			})
		},
	}

	addSecretFlags(cmd, &password, "password", "account password")
	cmd.Flags().BoolVar(&rememberMe, "remember-me", false, "request a long-lived session")
	cmd.Flags().StringVar(&origin, "origin", "", "client origin recorded on the session")

	return cmd
}

func newAccountPasswdCmd(opts *rootOptions) *cobra.Command {
	var current, next secretFlags

	cmd := &cobra.Command{
		Use:   "passwd ACCOUNT_ID",
		Short: "Change an account password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			if current.fromStdin && next.fromStdin {
				return oops.Code("INVALID_INPUT").Errorf("only one password can be read from standard input")
			}
			oldPassword, err := current.read(cmd)
			if err != nil {
				return err
			}
			newPassword, err := next.read(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				if err := a.registry.ChangePassword(cmd.Context(), id, oldPassword, newPassword); err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				cmd.Println("Password changed")
				return nil
			})
		},
	}

	addSecretFlags(cmd, &current, "old-password", "current password")
	addSecretFlags(cmd, &next, "new-password", "new password")

	return cmd
}

func newAccountSendActivationCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send-activation LOGIN",
		Short: "Send a fresh activation link to a pending account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.registry.SendActivation(cmd.Context(), args[0], a.cfg.Links.Activation); err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				cmd.Println("If the account exists and is pending, an activation link has been sent")
				return nil
			})
		},
	}
}

func newAccountForgotCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forgot LOGIN",
		Short: "Send a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.registry.RequestPasswordReset(cmd.Context(), args[0], a.cfg.Links.Reset); err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				cmd.Println("If the account exists, a password reset link has been sent")
				return nil
			})
		},
	}
}

func newAccountResetCmd(opts *rootOptions) *cobra.Command {
	var (
		password  secretFlags
		checkOnly bool
	)

	cmd := &cobra.Command{
		Use:   "reset ACCOUNT_ID CODE",
		Short: "Set a new password with a reset code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			if checkOnly {
				return withApp(cmd, opts, func(a *app) error {
					if err := a.registry.CheckPasswordResetToken(cmd.Context(), id, args[1]); err != nil {
						return err //nolint:wrapcheck // registry errors carry codes
					}
					cmd.Println("Reset code is valid")
					return nil
				})
			}
			secret, err := password.read(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				if err := a.registry.ResetPassword(cmd.Context(), id, args[1], secret); err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				cmd.Println("Password reset; existing sessions have been signed out")
				return nil
			})
		},
	}

	addSecretFlags(cmd, &password, "password", "new password")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "only check that the code is valid")

	return cmd
}

func newAccountShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show LOGIN",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				account, err := a.registry.FindByLogin(cmd.Context(), args[0])
				if err != nil {
					return err //nolint:wrapcheck // registry errors carry codes
				}
				cmd.Printf("ID:      %s\n", account.ID)
				cmd.Printf("Login:   %s\n", account.Login)
				cmd.Printf("Status:  %s\n", account.Status)
				cmd.Printf("Roles:   %s\n", strings.Join(account.Roles, ", "))
				cmd.Printf("Created: %s\n", account.CreatedAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
}

func printSession(cmd *cobra.Command, session *auth.Session, token string) {
	cmd.Printf("Session: %s\n", session.ID)
	cmd.Printf("Expires: %s\n", session.ExpiresAt.UTC().Format(time.RFC3339))
	cmd.Printf("Token:   %s\n", token)
}
