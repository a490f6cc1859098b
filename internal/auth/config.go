// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Workflow defaults.
const (
	DefaultActivationTTL    = 72 * time.Hour
	DefaultResetTTL         = time.Hour
	DefaultOperationTimeout = 10 * time.Second
	DefaultNotifyTimeout    = 5 * time.Second
)

// Config holds the settings a Registry is constructed with.
type Config struct {
	// RequireActivation is used when a RegisterRequest leaves Activation at ActivationDefault.
	RequireActivation bool
	// AutoLogin establishes a session right after a registration that needs no activation.
	AutoLogin bool
	// AllowRememberMe lets Login honor LoginRequest.RememberMe.
	AllowRememberMe bool

	ActivationTTL time.Duration
	ResetTTL      time.Duration
	SessionTTL    time.Duration
	RememberMeTTL time.Duration

	// OperationTimeout bounds every registry operation, storage calls included.
	OperationTimeout time.Duration
	// NotifyTimeout bounds a single notification send.
	NotifyTimeout time.Duration

	Throttle ThrottleConfig

	// Roles restricts which roles may be attached at registration. Nil accepts all.
	Roles *RoleFilter
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		RequireActivation: true,
		AutoLogin:         true,
		AllowRememberMe:   false,
		ActivationTTL:     DefaultActivationTTL,
		ResetTTL:          DefaultResetTTL,
		SessionTTL:        DefaultSessionTTL,
		RememberMeTTL:     DefaultRememberMeTTL,
		OperationTimeout:  DefaultOperationTimeout,
		NotifyTimeout:     DefaultNotifyTimeout,
		Throttle:          DefaultThrottleConfig(),
	}
}

// Validate checks that durations are positive and the throttle is usable.
func (c Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"activation_ttl", c.ActivationTTL},
		{"reset_ttl", c.ResetTTL},
		{"session_ttl", c.SessionTTL},
		{"remember_me_ttl", c.RememberMeTTL},
		{"operation_timeout", c.OperationTimeout},
		{"notify_timeout", c.NotifyTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return oops.Code("CONFIG_INVALID").With("field", d.name).Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.Throttle.Threshold <= 0 {
		return oops.Code("CONFIG_INVALID").With("field", "throttle.threshold").Errorf("throttle threshold must be positive")
	}
	if c.Throttle.Policy == nil {
		return oops.Code("CONFIG_INVALID").With("field", "throttle.strategy").Errorf("throttle backoff policy is required")
	}
	return nil
}
