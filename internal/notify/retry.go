// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultRetryBase   = 200 * time.Millisecond
	DefaultRetryCap    = 2 * time.Second
)

// ErrPermanent marks a delivery failure that retrying cannot fix, such as a
// rejected recipient. Wrap it (errors.Join or %w) to stop RetryNotifier.
var ErrPermanent = errors.New("permanent delivery failure")

// RetryConfig controls RetryNotifier backoff.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultRetryConfig returns the default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		Base:        DefaultRetryBase,
		Cap:         DefaultRetryCap,
	}
}

// RetryNotifier retries a wrapped Notifier until it succeeds, returns a
// permanent error, runs out of attempts, or ctx ends.
type RetryNotifier struct {
	next   auth.Notifier
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetryNotifier wraps next. Zero fields in cfg take their defaults.
func NewRetryNotifier(next auth.Notifier, cfg RetryConfig, logger *slog.Logger) (*RetryNotifier, error) {
	if next == nil {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("wrapped notifier is required")
	}
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Cap <= 0 {
		cfg.Cap = def.Cap
	}
	if cfg.Cap < cfg.Base {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").
			With("base", cfg.Base).
			With("cap", cfg.Cap).
			Errorf("retry cap must not be below base")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryNotifier{next: next, cfg: cfg, logger: logger}, nil
}

func (r *RetryNotifier) backoff() retry.Backoff {
	b := retry.NewExponential(r.cfg.Base)
	b = retry.WithCappedDuration(r.cfg.Cap, b)
	return retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1), b) //nolint:gosec // MaxAttempts is positive
}

// Send implements auth.Notifier.
func (r *RetryNotifier) Send(ctx context.Context, msg auth.Notification) error {
	attempt := 0
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		err := r.next.Send(ctx, msg)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrPermanent), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		}
		r.logger.WarnContext(ctx, "notification attempt failed",
			"purpose", string(msg.Purpose),
			"account_id", msg.AccountID.String(),
			"attempt", attempt,
			"error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code("NOTIFY_FAILED").
			With("purpose", msg.Purpose).
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

var _ auth.Notifier = (*RetryNotifier)(nil)
