// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/notify"
)

// Validate checks the configuration as a whole. Field-level checks that the
// auth package owns are delegated to auth.Config.Validate.
func (c *Config) Validate() error {
	if err := CheckVersion(c.Version); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	for name, tmpl := range map[string]string{"links.activation": c.Links.Activation, "links.reset": c.Links.Reset} {
		if tmpl == "" {
			continue
		}
		if !strings.Contains(tmpl, auth.PlaceholderID) || !strings.Contains(tmpl, auth.PlaceholderCode) {
			return invalid(name, "link template must contain %s and %s", auth.PlaceholderID, auth.PlaceholderCode)
		}
	}
	if c.Janitor.Interval <= 0 {
		return invalid("janitor.interval", "janitor interval must be positive")
	}
	if c.Notify.MaxAttempts <= 0 {
		return invalid("notify.max_attempts", "notify max_attempts must be at least 1")
	}
	if c.Notify.RetryCap < c.Notify.RetryBase {
		return invalid("notify.retry_cap", "notify retry_cap must not be below retry_base")
	}
	if c.Throttle.Max > 0 && c.Throttle.Max < c.Throttle.Base {
		return invalid("throttle.max", "throttle max must not be below base")
	}

	ac, err := c.AuthConfig()
	if err != nil {
		return err
	}
	return ac.Validate() //nolint:wrapcheck // already coded CONFIG_INVALID
}

// AuthConfig converts the file configuration into an auth.Config.
func (c *Config) AuthConfig() (auth.Config, error) {
	policy, err := c.Throttle.policy()
	if err != nil {
		return auth.Config{}, err
	}
	var roles *auth.RoleFilter
	if len(c.Auth.Roles) > 0 {
		roles, err = auth.NewRoleFilter(c.Auth.Roles)
		if err != nil {
			return auth.Config{}, oops.Code("CONFIG_INVALID").With("field", "auth.roles").Wrap(err)
		}
	}
	return auth.Config{
		RequireActivation: c.Auth.RequireActivation,
		AutoLogin:         c.Auth.AutoLogin,
		AllowRememberMe:   c.Auth.AllowRememberMe,
		ActivationTTL:     c.Tokens.ActivationTTL,
		ResetTTL:          c.Tokens.ResetTTL,
		SessionTTL:        c.Sessions.TTL,
		RememberMeTTL:     c.Sessions.RememberMeTTL,
		OperationTimeout:  c.Auth.OperationTimeout,
		NotifyTimeout:     c.Notify.Timeout,
		Throttle: auth.ThrottleConfig{
			Threshold: c.Throttle.Threshold,
			Policy:    policy,
			RetainFor: c.Throttle.RetainFor,
			PerOrigin: c.Throttle.PerOrigin,
		},
		Roles: roles,
	}, nil
}

// RetryConfig converts the notify section into a notify.RetryConfig.
func (c *Config) RetryConfig() notify.RetryConfig {
	return notify.RetryConfig{
		MaxAttempts: c.Notify.MaxAttempts,
		Base:        c.Notify.RetryBase,
		Cap:         c.Notify.RetryCap,
	}
}

func (t ThrottleConfig) policy() (auth.BackoffPolicy, error) {
	if t.Base <= 0 {
		return nil, invalid("throttle.base", "throttle base must be positive")
	}
	switch t.Strategy {
	case StrategyFixed:
		return auth.FixedBackoff{Window: t.Base}, nil
	case StrategyExponential:
		return auth.ExponentialBackoff{Base: t.Base, Max: t.Max}, nil
	default:
		return nil, invalid("throttle.strategy", "unknown throttle strategy %q", t.Strategy)
	}
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}
