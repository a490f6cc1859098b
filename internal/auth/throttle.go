// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/samber/oops"
)

// Throttle defaults.
const (
	DefaultThrottleThreshold = 5
	DefaultThrottleBase      = 30 * time.Second
	DefaultThrottleMax       = 15 * time.Minute
	DefaultThrottleRetain    = 24 * time.Hour
)

// ThrottleRecord tracks consecutive failures for one throttle key.
type ThrottleRecord struct {
	Key           string
	Failures      int
	CooldownUntil *time.Time
	UpdatedAt     time.Time
}

// CooldownRemaining returns how long the cool-down still runs at now.
func (r *ThrottleRecord) CooldownRemaining(now time.Time) time.Duration {
	if r.CooldownUntil == nil || !r.CooldownUntil.After(now) {
		return 0
	}
	return r.CooldownUntil.Sub(now)
}

// ThrottleRepository manages throttle record persistence.
type ThrottleRepository interface {
	// Get retrieves the record for key.
	// Returns ErrNotFound if the key has no recorded failures.
	Get(ctx context.Context, key string) (*ThrottleRecord, error)

	// Increment atomically adds one failure for key and returns the new count.
	Increment(ctx context.Context, key string, now time.Time) (int, error)

	// SetCooldown sets the cool-down deadline for key.
	SetCooldown(ctx context.Context, key string, until, now time.Time) error

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIdle removes records last updated before cutoff whose cool-down has lapsed.
	DeleteIdle(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// BackoffPolicy decides the length of a cool-down.
type BackoffPolicy interface {
	// Backoff returns the cool-down for the given step. Step is 0 when the
	// failure count first reaches the threshold and grows by one for every
	// failure after that.
	Backoff(step int) time.Duration
}

// FixedBackoff applies the same window for every cool-down.
type FixedBackoff struct {
	Window time.Duration
}

// Backoff implements BackoffPolicy.
func (f FixedBackoff) Backoff(int) time.Duration {
	return f.Window
}

// ExponentialBackoff doubles the cool-down for every step, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Backoff implements BackoffPolicy.
func (e ExponentialBackoff) Backoff(step int) time.Duration {
	d := e.Base
	for i := 0; i < step && i < 62; i++ {
		if (e.Max > 0 && d >= e.Max) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ThrottleConfig configures a ThrottleGuard.
type ThrottleConfig struct {
	// Threshold is the failure count at which a cool-down starts.
	Threshold int
	// Policy computes cool-down lengths.
	Policy BackoffPolicy
	// RetainFor is how long an idle record is kept before Sweep removes it.
	RetainFor time.Duration
	// PerOrigin additionally throttles by request origin when one is supplied.
	PerOrigin bool
}

// DefaultThrottleConfig returns the default throttle configuration.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Threshold: DefaultThrottleThreshold,
		Policy:    ExponentialBackoff{Base: DefaultThrottleBase, Max: DefaultThrottleMax},
		RetainFor: DefaultThrottleRetain,
	}
}

// ThrottleGuard counts consecutive failures per key and blocks attempts
// during a cool-down. It is safe for concurrent use.
type ThrottleGuard struct {
	repo      ThrottleRepository
	threshold int
	policy    BackoffPolicy
	retainFor time.Duration
	clock     Clock
	locks     *keyLock
}

// NewThrottleGuard creates a ThrottleGuard. Zero config fields fall back
// to the defaults.
func NewThrottleGuard(repo ThrottleRepository, cfg ThrottleConfig, clock Clock) (*ThrottleGuard, error) {
	if repo == nil {
		return nil, oops.Errorf("throttle repository is required")
	}
	def := DefaultThrottleConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Policy == nil {
		cfg.Policy = def.Policy
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = def.RetainFor
	}
	return &ThrottleGuard{
		repo:      repo,
		threshold: cfg.Threshold,
		policy:    cfg.Policy,
		retainFor: cfg.RetainFor,
		clock:     clock,
		locks:     newKeyLock(),
	}, nil
}

// Threshold returns the failure count at which a cool-down starts.
func (g *ThrottleGuard) Threshold() int {
	return g.threshold
}

// RecordFailure adds a failure for key and starts a cool-down once the
// count reaches the threshold.
func (g *ThrottleGuard) RecordFailure(ctx context.Context, key string) error {
	unlock := g.locks.lock(key)
	defer unlock()

	return g.recordFailure(ctx, key, g.clock.now())
}

// RecordFailureUnlessCooling records a failure for key unless key is
// already cooling down, in which case it records nothing and reports true.
// The check and the increment happen under one per-key lock, so of many
// concurrent failures only those before the cool-down starts are counted.
func (g *ThrottleGuard) RecordFailureUnlessCooling(ctx context.Context, key string) (bool, error) {
	unlock := g.locks.lock(key)
	defer unlock()

	now := g.clock.now()
	record, err := g.repo.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return false, transient("get throttle record", err)
	case record.CooldownRemaining(now) > 0:
		return true, nil
	}
	return false, g.recordFailure(ctx, key, now)
}

func (g *ThrottleGuard) recordFailure(ctx context.Context, key string, now time.Time) error {
	failures, err := g.repo.Increment(ctx, key, now)
	if err != nil {
		return transient("record throttle failure", err)
	}
	if failures < g.threshold {
		return nil
	}

	until := now.Add(g.policy.Backoff(failures - g.threshold))
	if err := g.repo.SetCooldown(ctx, key, until, now); err != nil {
		return transient("set throttle cooldown", err)
	}
	ThrottleCooldowns.Inc()
	return nil
}

// RecordSuccess clears the failure count and any cool-down for key.
func (g *ThrottleGuard) RecordSuccess(ctx context.Context, key string) error {
	unlock := g.locks.lock(key)
	defer unlock()

	if err := g.repo.Delete(ctx, key); err != nil {
		return transient("clear throttle record", err)
	}
	return nil
}

// IsThrottled reports whether key is in an active cool-down.
func (g *ThrottleGuard) IsThrottled(ctx context.Context, key string) (bool, error) {
	remaining, err := g.Remaining(ctx, key)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// Remaining returns how long the cool-down for key still runs.
func (g *ThrottleGuard) Remaining(ctx context.Context, key string) (time.Duration, error) {
	record, err := g.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, transient("get throttle record", err)
	}
	return record.CooldownRemaining(g.clock.now()), nil
}

// Sweep removes records idle longer than the retention window.
func (g *ThrottleGuard) Sweep(ctx context.Context) (int64, error) {
	now := g.clock.now()
	n, err := g.repo.DeleteIdle(ctx, now.Add(-g.retainFor), now)
	if err != nil {
		return 0, transient("sweep throttle records", err)
	}
	return n, nil
}

// LoginThrottleKey is the throttle key for a login attempt.
func LoginThrottleKey(login string) string {
	return "login:" + NormalizeLogin(login)
}

// OriginThrottleKey is the throttle key for a request origin.
func OriginThrottleKey(origin string) string {
	return "origin:" + origin
}
