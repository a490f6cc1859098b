// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/auth"
	authpg "github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/notify"
)

const (
	activationLink = "https://example.com/activate/{id}/{code}"
	resetLink      = "https://example.com/reset/{id}/{code}"
)

// outbox captures delivered notifications and can fail the next few sends.
type outbox struct {
	mu       sync.Mutex
	sent     []auth.Notification
	failures int
}

func (o *outbox) Send(_ context.Context, n auth.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failures > 0 {
		o.failures--
		return errors.New("relay unavailable")
	}
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) failNext(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = n
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

func (o *outbox) lastCode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	Expect(o.sent).NotTo(BeEmpty())
	link := o.sent[len(o.sent)-1].Link
	return link[strings.LastIndex(link, "/")+1:]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Account lifecycle", func() {
	var (
		ctx      context.Context
		registry *auth.Registry
		box      *outbox
		clk      *clock
	)

	BeforeEach(func() {
		ctx = context.Background()
		env.truncate()

		box = &outbox{}
		clk = &clock{now: time.Now().UTC().Truncate(time.Microsecond)}
		logger := slog.New(slog.DiscardHandler)

		tokens, err := auth.NewTokenStore(authpg.NewTokenRepository(env.pool), clk.Now)
		Expect(err).NotTo(HaveOccurred())
		guard, err := auth.NewThrottleGuard(authpg.NewThrottleRepository(env.pool), auth.DefaultThrottleConfig(), clk.Now)
		Expect(err).NotTo(HaveOccurred())
		hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
		Expect(err).NotTo(HaveOccurred())
		notifier, err := notify.NewRetryNotifier(box, notify.RetryConfig{
			MaxAttempts: 3,
			Base:        time.Millisecond,
			Cap:         5 * time.Millisecond,
		}, logger)
		Expect(err).NotTo(HaveOccurred())

		registry, err = auth.NewRegistry(auth.RegistryDeps{
			Accounts: authpg.NewAccountRepository(env.pool),
			Sessions: authpg.NewSessionRepository(env.pool),
			Tokens:   tokens,
			Throttle: guard,
			Hasher:   hasher,
			Notifier: notifier,
		}, auth.DefaultConfig(), auth.WithLogger(logger), auth.WithClock(clk.Now))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("registration with activation", func() {
		It("activates with the emailed code exactly once", func() {
			reg, err := registry.Register(ctx, auth.RegisterRequest{
				Login:        "ada@example.com",
				Password:     "correct horse",
				LinkTemplate: activationLink,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Account.Status).To(Equal(auth.StatusPending))
			Expect(box.count()).To(Equal(1))

			_, err = registry.Authenticate(ctx, "ada@example.com", "correct horse")
			Expect(auth.KindOf(err)).To(Equal(auth.KindAccountNotActivated))

			code := box.lastCode()
			Expect(registry.Activate(ctx, reg.Account.ID, code)).To(Succeed())

			account, err := registry.Authenticate(ctx, "ADA@example.com", "correct horse")
			Expect(err).NotTo(HaveOccurred())
			Expect(account.ID).To(Equal(reg.Account.ID))

			err = registry.Activate(ctx, reg.Account.ID, code)
			Expect(auth.KindOf(err)).To(Equal(auth.KindAlreadyActivated))
		})

		It("retries a flaky notifier and still delivers one message", func() {
			box.failNext(2)
			_, err := registry.Register(ctx, auth.RegisterRequest{
				Login:        "bob",
				Password:     "pw",
				LinkTemplate: activationLink,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(box.count()).To(Equal(1))
		})

		It("reports a notification failure but keeps the account", func() {
			box.failNext(10)
			reg, err := registry.Register(ctx, auth.RegisterRequest{
				Login:        "carol",
				Password:     "pw",
				LinkTemplate: activationLink,
			})
			Expect(auth.KindOf(err)).To(Equal(auth.KindNotificationFailed))
			Expect(reg).NotTo(BeNil())

			found, err := registry.FindByLogin(ctx, "carol")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(reg.Account.ID))
		})

		It("rejects a duplicate login", func() {
			_, err := registry.Register(ctx, auth.RegisterRequest{Login: "dave", Password: "pw", Activation: auth.ActivationSkipped})
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Register(ctx, auth.RegisterRequest{Login: "Dave", Password: "pw", Activation: auth.ActivationSkipped})
			Expect(auth.KindOf(err)).To(Equal(auth.KindDuplicateAccount))
		})
	})

	Describe("throttling", func() {
		It("locks out after five failures until the cool-down passes", func() {
			_, err := registry.Register(ctx, auth.RegisterRequest{Login: "erin", Password: "secret", Activation: auth.ActivationSkipped})
			Expect(err).NotTo(HaveOccurred())

			for range auth.DefaultThrottleThreshold {
				_, err := registry.Authenticate(ctx, "erin", "wrong")
				Expect(auth.KindOf(err)).To(Equal(auth.KindAccountNotFound))
			}

			_, err = registry.Authenticate(ctx, "erin", "secret")
			Expect(auth.KindOf(err)).To(Equal(auth.KindThrottled))

			clk.Advance(auth.DefaultThrottleBase)
			_, err = registry.Authenticate(ctx, "erin", "secret")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("password reset", func() {
		It("replaces the password and ends existing sessions", func() {
			reg, err := registry.Register(ctx, auth.RegisterRequest{Login: "frank", Password: "old", Activation: auth.ActivationSkipped})
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.SessionToken).NotTo(BeEmpty())

			Expect(registry.RequestPasswordReset(ctx, "frank", resetLink)).To(Succeed())
			code := box.lastCode()
			Expect(registry.CheckPasswordResetToken(ctx, reg.Account.ID, code)).To(Succeed())
			Expect(registry.ResetPassword(ctx, reg.Account.ID, code, "new")).To(Succeed())

			_, err = registry.ValidateSession(ctx, reg.SessionToken)
			Expect(auth.KindOf(err)).To(Equal(auth.KindSessionInvalid))

			_, err = registry.Authenticate(ctx, "frank", "new")
			Expect(err).NotTo(HaveOccurred())

			err = registry.ResetPassword(ctx, reg.Account.ID, code, "newer")
			Expect(auth.KindOf(err)).To(Equal(auth.KindTokenInvalid))
		})

		It("does not reveal whether a login exists", func() {
			Expect(registry.RequestPasswordReset(ctx, "nobody", resetLink)).To(Succeed())
			Expect(box.count()).To(BeZero())

			err := registry.ResetPassword(ctx, ulid.Make(), "code", "pw")
			Expect(auth.KindOf(err)).To(Equal(auth.KindTokenInvalid))
		})
	})

	Describe("sweeping", func() {
		It("removes expired tokens and sessions", func() {
			_, err := registry.Register(ctx, auth.RegisterRequest{Login: "gina", Password: "pw", LinkTemplate: activationLink})
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Register(ctx, auth.RegisterRequest{Login: "hank", Password: "pw", Activation: auth.ActivationSkipped})
			Expect(err).NotTo(HaveOccurred())

			clk.Advance(auth.DefaultActivationTTL)
			result, err := registry.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Tokens).To(Equal(int64(1)))
			Expect(result.Sessions).To(Equal(int64(1)))
		})
	})
})
