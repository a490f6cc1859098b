// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/notify"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configFile string
	deps       *Deps
}

// NewRootCmd creates the root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	opts := &rootOptions{deps: deps.withDefaults()}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "gatekeeper - account registration and sign-in service",
		Long: `gatekeeper manages user accounts: registration with optional activation,
throttled password sign-in, sessions, and token-based password reset.`,
		SilenceUsage: true,
	}

	// Global flags. Flags the user sets override the config file.
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/gatekeeper/config.yaml)")
	cmd.PersistentFlags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (default: $DATABASE_URL)")
	cmd.PersistentFlags().String("metrics-addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newAccountCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves and loads the config file, then applies changed
// flags from cmd.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := config.Resolve(o.configFile)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return cfg, nil
}

// newLogger builds the process logger, writing to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return logging.Setup(logging.Options{
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	}, cmd.ErrOrStderr()), nil
}

func requireDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("database URL is required (set database.url, --database-url or %s)", config.DatabaseURLEnv)
	}
	return cfg.Database.URL, nil
}

// app is a fully wired registry for commands that touch accounts.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  *Backend
	registry *auth.Registry
}

func (o *rootOptions) openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	databaseURL, err := requireDatabaseURL(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := o.deps.BackendFactory(cmd.Context(), databaseURL)
	if err != nil {
		return nil, oops.With("operation", "open backend").Wrap(err)
	}

	registry, err := buildRegistry(cfg, backend, o.deps, logger)
	if err != nil {
		if backend.Close != nil {
			backend.Close()
		}
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, backend: backend, registry: registry}, nil
}

func (a *app) Close() {
	if a.backend.Close != nil {
		a.backend.Close()
	}
}

func buildRegistry(cfg *config.Config, backend *Backend, deps *Deps, logger *slog.Logger) (*auth.Registry, error) {
	authCfg, err := cfg.AuthConfig()
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded CONFIG_INVALID
	}

	tokens, err := auth.NewTokenStore(backend.Tokens, deps.Clock)
	if err != nil {
		return nil, oops.Code("REGISTRY_INIT_FAILED").Wrap(err)
	}
	throttle, err := auth.NewThrottleGuard(backend.Throttle, authCfg.Throttle, deps.Clock)
	if err != nil {
		return nil, oops.Code("REGISTRY_INIT_FAILED").Wrap(err)
	}
	notifier, err := notify.NewRetryNotifier(deps.NotifierFactory(logger), cfg.RetryConfig(), logger)
	if err != nil {
		return nil, oops.Code("REGISTRY_INIT_FAILED").Wrap(err)
	}

	registry, err := auth.NewRegistry(auth.RegistryDeps{
		Accounts: backend.Accounts,
		Sessions: backend.Sessions,
		Tokens:   tokens,
		Throttle: throttle,
		Hasher:   auth.NewArgon2idHasher(),
		Notifier: notifier,
	}, authCfg, auth.WithLogger(logger), auth.WithClock(deps.Clock))
	if err != nil {
		return nil, oops.Code("REGISTRY_INIT_FAILED").Wrap(err)
	}
	return registry, nil
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Println("gatekeeper " + versionString())
			return nil
		},
	}
}
