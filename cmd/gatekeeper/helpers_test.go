// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
	"github.com/holomush/gatekeeper/internal/observability"
)

// outbox records notifications instead of delivering them.
type outbox struct {
	mu   sync.Mutex
	msgs []auth.Notification
}

func (o *outbox) Send(_ context.Context, n auth.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, n)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

// last returns the account ID and code from the newest link.
func (o *outbox) last(t *testing.T) (id, code string) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs, "no notification was sent")
	parts := strings.Split(o.msgs[len(o.msgs)-1].Link, "/")
	require.GreaterOrEqual(t, len(parts), 2)
	return parts[len(parts)-2], parts[len(parts)-1]
}

// cliHarness runs root commands against one in-memory store that persists
// across invocations.
type cliHarness struct {
	t        *testing.T
	store    *memory.Store
	outbox   *outbox
	migrator *fakeMigrator
	obs      *fakeObservabilityServer
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://memory/gatekeeper")
	return &cliHarness{
		t:        t,
		store:    memory.NewStore(),
		outbox:   &outbox{},
		migrator: &fakeMigrator{},
		obs:      &fakeObservabilityServer{},
	}
}

func (h *cliHarness) deps() *Deps {
	return &Deps{
		BackendFactory: func(_ context.Context, _ string) (*Backend, error) {
			return &Backend{
				Accounts: h.store.Accounts(),
				Tokens:   h.store.Tokens(),
				Throttle: h.store.Throttle(),
				Sessions: h.store.Sessions(),
				Ping:     h.store.Ping,
			}, nil
		},
		MigratorFactory: func(string) (Migrator, error) {
			return h.migrator, nil
		},
		NotifierFactory: func(*slog.Logger) auth.Notifier {
			return h.outbox
		},
		ObservabilityServerFactory: func(addr, _ string, ready observability.ReadinessChecker, _ *slog.Logger) ObservabilityServer {
			h.obs.addr = addr
			h.obs.ready = ready
			return h.obs
		},
	}
}

// run executes the root command with args and returns stdout.
func (h *cliHarness) run(args ...string) (string, error) {
	return h.runContext(context.Background(), "", args...)
}

func (h *cliHarness) runContext(ctx context.Context, stdin string, args ...string) (string, error) {
	h.t.Helper()
	cmd := newRootCmd(h.deps())
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// mustRun is run that fails the test on error.
func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "gatekeeper %s", strings.Join(args, " "))
	return out
}

// fieldValue returns the text after "label:" on the first matching line.
func fieldValue(t *testing.T, out, label string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, label+":"); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no %q line in output:\n%s", label, out)
	return ""
}
