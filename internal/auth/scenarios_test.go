// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
)

var _ = Describe("Registry lifecycle", func() {
	var (
		ctx      context.Context
		store    *memory.Store
		clock    *fakeClock
		notifier *recordingNotifier
		tokens   *auth.TokenStore
		throttle *auth.ThrottleGuard
		registry *auth.Registry
		cfg      auth.Config
	)

	build := func() {
		var err error
		tokens, err = auth.NewTokenStore(store.Tokens(), clock.Now)
		Expect(err).NotTo(HaveOccurred())
		throttle, err = auth.NewThrottleGuard(store.Throttle(), cfg.Throttle, clock.Now)
		Expect(err).NotTo(HaveOccurred())
		hasher, err := auth.NewArgon2idHasherWithParams(cheapParams)
		Expect(err).NotTo(HaveOccurred())

		registry, err = auth.NewRegistry(auth.RegistryDeps{
			Accounts: store.Accounts(),
			Sessions: store.Sessions(),
			Tokens:   tokens,
			Throttle: throttle,
			Hasher:   hasher,
			Notifier: notifier,
		}, cfg, auth.WithLogger(discardLogger()), auth.WithClock(clock.Now))
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewStore()
		clock = newFakeClock()
		notifier = &recordingNotifier{}
		cfg = auth.DefaultConfig()
		cfg.AutoLogin = false
	})

	JustBeforeEach(build)

	Describe("registration then authentication", func() {
		Context("when activation is not required", func() {
			BeforeEach(func() { cfg.RequireActivation = false })

			It("authenticates with the registered credentials", func() {
				_, err := registry.Register(ctx, auth.RegisterRequest{Login: "a@x.com", Password: "Secret123"})
				Expect(err).NotTo(HaveOccurred())

				account, err := registry.Authenticate(ctx, "a@x.com", "Secret123")
				Expect(err).NotTo(HaveOccurred())
				Expect(account.Status).To(Equal(auth.StatusActive))
			})
		})

		Context("when activation is required", func() {
			It("refuses to authenticate until activated", func() {
				_, err := registry.Register(ctx, auth.RegisterRequest{
					Login: "a@x.com", Password: "Secret123", LinkTemplate: activationLink,
				})
				Expect(err).NotTo(HaveOccurred())

				_, err = registry.Authenticate(ctx, "a@x.com", "Secret123")
				Expect(err).To(MatchError(auth.ErrAccountNotActivated))
			})
		})

		It("rejects a second registration of the same login", func() {
			req := auth.RegisterRequest{Login: "a@x.com", Password: "Secret123", LinkTemplate: activationLink}
			_, err := registry.Register(ctx, req)
			Expect(err).NotTo(HaveOccurred())

			req.Login = "A@X.COM"
			_, err = registry.Register(ctx, req)
			Expect(err).To(MatchError(auth.ErrDuplicateAccount))
		})
	})

	Describe("the activation scenario", func() {
		It("moves a pending account to active with the right code only", func() {
			reg, err := registry.Register(ctx, auth.RegisterRequest{
				Login: "a@x.com", Password: "Secret123", LinkTemplate: activationLink,
			})
			Expect(err).NotTo(HaveOccurred())
			account := reg.Account
			Expect(account.Status).To(Equal(auth.StatusPending))
			Expect(notifier.count()).To(Equal(1))
			Expect(notifier.last().Purpose).To(Equal(auth.PurposeActivation))

			Expect(registry.Activate(ctx, account.ID, "wrong-code")).To(MatchError(auth.ErrTokenInvalid))

			code := notifier.lastCode()
			Expect(registry.Activate(ctx, account.ID, code)).To(Succeed())

			stored, err := registry.FindByID(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(auth.StatusActive))

			_, err = registry.Authenticate(ctx, "a@x.com", "Secret123")
			Expect(err).NotTo(HaveOccurred())

			By("refusing the consumed code")
			Expect(registry.Activate(ctx, account.ID, code)).To(MatchError(auth.ErrAlreadyActivated))
			_, err = tokens.Find(ctx, account.ID, auth.PurposeActivation, code)
			Expect(err).To(MatchError(auth.ErrTokenInvalid))
		})

		It("returns the same activation code until it is consumed", func() {
			reg, err := registry.Register(ctx, auth.RegisterRequest{
				Login: "a@x.com", Password: "Secret123", LinkTemplate: activationLink,
			})
			Expect(err).NotTo(HaveOccurred())

			first, err := registry.IssueActivationToken(ctx, reg.Account.ID)
			Expect(err).NotTo(HaveOccurred())
			second, err := registry.IssueActivationToken(ctx, reg.Account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Code).To(Equal(first.Code))
			Expect(first.Code).To(Equal(notifier.lastCode()))
		})
	})

	Describe("expired tokens", func() {
		var account *auth.Account

		JustBeforeEach(func() {
			reg, err := registry.Register(ctx, auth.RegisterRequest{
				Login: "a@x.com", Password: "Secret123", LinkTemplate: activationLink,
			})
			Expect(err).NotTo(HaveOccurred())
			account = reg.Account
		})

		It("rejects an expired activation code", func() {
			code := notifier.lastCode()
			clock.Advance(cfg.ActivationTTL + time.Second)

			_, err := tokens.Find(ctx, account.ID, auth.PurposeActivation, code)
			Expect(err).To(MatchError(auth.ErrTokenInvalid))
			Expect(registry.Activate(ctx, account.ID, code)).To(MatchError(auth.ErrTokenInvalid))
		})

		It("rejects an expired reset code", func() {
			token, err := registry.IssuePasswordResetToken(ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(cfg.ResetTTL + time.Second)

			err = registry.ResetPassword(ctx, account.ID, token.Code, "NewSecret456")
			Expect(err).To(MatchError(auth.ErrTokenInvalid))
		})
	})

	Describe("throttling", func() {
		It("blocks after repeated failures and clears on success", func() {
			key := auth.LoginThrottleKey("a@x.com")
			for range throttle.Threshold() {
				Expect(throttle.RecordFailure(ctx, key)).To(Succeed())
			}
			Expect(throttle.RecordFailure(ctx, key)).To(Succeed())

			throttled, err := throttle.IsThrottled(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(throttled).To(BeTrue())

			Expect(throttle.RecordSuccess(ctx, key)).To(Succeed())
			throttled, err = throttle.IsThrottled(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(throttled).To(BeFalse())
		})

		Context("with an active account", func() {
			BeforeEach(func() { cfg.RequireActivation = false })

			It("locks out the correct password after five failures until the cool-down ends", func() {
				_, err := registry.Register(ctx, auth.RegisterRequest{Login: "a@x.com", Password: "Secret123"})
				Expect(err).NotTo(HaveOccurred())

				for range 5 {
					_, err := registry.Authenticate(ctx, "a@x.com", "wrong")
					Expect(err).To(MatchError(auth.ErrAccountNotFound))
				}

				_, err = registry.Authenticate(ctx, "a@x.com", "Secret123")
				Expect(err).To(MatchError(auth.ErrThrottled))

				clock.Advance(auth.DefaultThrottleBase)
				_, err = registry.Authenticate(ctx, "a@x.com", "Secret123")
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("changing a password", func() {
		BeforeEach(func() { cfg.RequireActivation = false })

		It("always rejects the current password as the new one", func() {
			reg, err := registry.Register(ctx, auth.RegisterRequest{Login: "a@x.com", Password: "Secret123"})
			Expect(err).NotTo(HaveOccurred())

			err = registry.ChangePassword(ctx, reg.Account.ID, "Secret123", "Secret123")
			Expect(err).To(MatchError(auth.ErrInvalidCredential))
			Expect(auth.KindOf(err)).To(Equal(auth.KindInvalidCredential))
		})
	})
})
