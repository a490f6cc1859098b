// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
)

const (
	activationLink = "https://example.com/activate/{id}/{code}"
	resetLink      = "https://example.com/reset/{id}/{code}"
)

// fakeClock is a settable time source safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier keeps every notification it is asked to send.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) failWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) last() auth.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return auth.Notification{}
	}
	return n.sent[len(n.sent)-1]
}

// lastCode returns the token code embedded in the most recent link.
func (n *recordingNotifier) lastCode() string {
	link := n.last().Link
	return link[strings.LastIndex(link, "/")+1:]
}

type harness struct {
	registry *auth.Registry
	store    *memory.Store
	tokens   *auth.TokenStore
	throttle *auth.ThrottleGuard
	clock    *fakeClock
	notifier *recordingNotifier
	hasher   *auth.Argon2idHasher
}

func newHarness(t *testing.T, configure ...func(*auth.Config)) *harness {
	t.Helper()
	return newHarnessWithLogger(t, discardLogger(), configure...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newHarnessWithLogger(t *testing.T, logger *slog.Logger, configure ...func(*auth.Config)) *harness {
	t.Helper()
	return buildHarness(t, logger, nil, configure...)
}

// newHarnessWithAccounts builds a harness whose registry reaches the
// store's accounts through wrap.
func newHarnessWithAccounts(t *testing.T, wrap func(auth.AccountRepository) auth.AccountRepository) *harness {
	t.Helper()
	return buildHarness(t, discardLogger(), wrap)
}

func buildHarness(
	t *testing.T,
	logger *slog.Logger,
	wrap func(auth.AccountRepository) auth.AccountRepository,
	configure ...func(*auth.Config),
) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		hasher:   newCheapHasher(t),
	}
	cfg := auth.DefaultConfig()
	for _, c := range configure {
		c(&cfg)
	}

	var err error
	h.tokens, err = auth.NewTokenStore(h.store.Tokens(), h.clock.Now)
	require.NoError(t, err)
	h.throttle, err = auth.NewThrottleGuard(h.store.Throttle(), cfg.Throttle, h.clock.Now)
	require.NoError(t, err)

	var accounts auth.AccountRepository = h.store.Accounts()
	if wrap != nil {
		accounts = wrap(accounts)
	}

	h.registry, err = auth.NewRegistry(auth.RegistryDeps{
		Accounts: accounts,
		Sessions: h.store.Sessions(),
		Tokens:   h.tokens,
		Throttle: h.throttle,
		Hasher:   h.hasher,
		Notifier: h.notifier,
	}, cfg, auth.WithLogger(logger), auth.WithClock(h.clock.Now))
	require.NoError(t, err)
	return h
}

// registerActive creates an active account and returns it.
func (h *harness) registerActive(t *testing.T, login, password string) *auth.Account {
	t.Helper()
	reg, err := h.registry.Register(context.Background(), auth.RegisterRequest{
		Login:      login,
		Password:   password,
		Activation: auth.ActivationSkipped,
	})
	require.NoError(t, err)
	return reg.Account
}

// registerPending creates a pending account and returns it with its activation code.
func (h *harness) registerPending(t *testing.T, login, password string) (*auth.Account, string) {
	t.Helper()
	reg, err := h.registry.Register(context.Background(), auth.RegisterRequest{
		Login:        login,
		Password:     password,
		Activation:   auth.ActivationRequired,
		LinkTemplate: activationLink,
	})
	require.NoError(t, err)
	return reg.Account, h.notifier.lastCode()
}

// mockAccounts is a testify mock of auth.AccountRepository.
type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccounts) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAccounts) GetByLogin(ctx context.Context, login string) (*auth.Account, error) {
	args := m.Called(ctx, login)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAccounts) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	return m.Called(ctx, id, passwordHash, now).Error(0)
}

func (m *mockAccounts) ReplacePassword(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error {
	return m.Called(ctx, id, oldHash, newHash, now).Error(0)
}

func (m *mockAccounts) Activate(ctx context.Context, id ulid.ULID, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

// flakyAccounts fails the next N account writes of each kind with a
// connection error and passes everything else through.
type flakyAccounts struct {
	auth.AccountRepository

	mu             sync.Mutex
	activateFails  int
	passwordFails  int
	onPasswordSwap func()
}

var errConnReset = errors.New("connection reset by peer")

func (f *flakyAccounts) Activate(ctx context.Context, id ulid.ULID, now time.Time) error {
	f.mu.Lock()
	fail := f.activateFails > 0
	if fail {
		f.activateFails--
	}
	f.mu.Unlock()
	if fail {
		return errConnReset
	}
	return f.AccountRepository.Activate(ctx, id, now)
}

func (f *flakyAccounts) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	f.mu.Lock()
	fail := f.passwordFails > 0
	if fail {
		f.passwordFails--
	}
	f.mu.Unlock()
	if fail {
		return errConnReset
	}
	return f.AccountRepository.UpdatePassword(ctx, id, passwordHash, now)
}

// ReplacePassword runs onPasswordSwap first, once, so a test can slip a
// competing write in between verification and the swap.
func (f *flakyAccounts) ReplacePassword(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error {
	f.mu.Lock()
	hook := f.onPasswordSwap
	f.onPasswordSwap = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.AccountRepository.ReplacePassword(ctx, id, oldHash, newHash, now)
}
