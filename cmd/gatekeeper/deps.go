// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/notify"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/store"
)

// Backend bundles the repositories a command runs against.
type Backend struct {
	Accounts auth.AccountRepository
	Tokens   auth.TokenRepository
	Throttle auth.ThrottleRepository
	Sessions auth.SessionRepository

	// Ping reports whether the backing store is reachable.
	Ping func(ctx context.Context) error
	// Close releases the backing store. May be nil.
	Close func()
}

// Deps contains injectable dependencies for the CLI.
// All fields with nil values will use their default implementations.
type Deps struct {
	// BackendFactory opens the repositories for a database URL.
	// Default: postgresBackend
	BackendFactory func(ctx context.Context, databaseURL string) (*Backend, error)

	// MigratorFactory opens a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// NotifierFactory builds the notifier that delivers links. It is
	// wrapped in a retrying notifier.
	// Default: notify.NewLogNotifier
	NotifierFactory func(logger *slog.Logger) auth.Notifier

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr, version string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Clock is the time source for the registry. Default: time.Now
	Clock auth.Clock
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.BackendFactory == nil {
		out.BackendFactory = postgresBackend
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.NotifierFactory == nil {
		out.NotifierFactory = func(logger *slog.Logger) auth.Notifier {
			return notify.NewLogNotifier(logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr, version string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, version, ready, logger)
		}
	}
	return &out
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func postgresBackend(ctx context.Context, databaseURL string) (*Backend, error) {
	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded DB_CONNECT_FAILED
	}
	return &Backend{
		Accounts: postgres.NewAccountRepository(pool),
		Tokens:   postgres.NewTokenRepository(pool),
		Throttle: postgres.NewThrottleRepository(pool),
		Sessions: postgres.NewSessionRepository(pool),
		Ping:     pool.Ping,
		Close:    pool.Close,
	}, nil
}
