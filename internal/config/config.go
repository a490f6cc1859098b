// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatekeeper configuration from a YAML file and
// command-line flags.
package config

import (
	_ "embed"
	"time"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/notify"
)

// SupportedVersion is the semver constraint a config file's version must
// satisfy.
const SupportedVersion = "^1"

// CurrentVersion is written by `gatekeeper config init`.
const CurrentVersion = "1.0.0"

// Throttle backoff strategies.
const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultYAML returns the annotated default configuration file.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultYAML))
	copy(out, defaultYAML)
	return out
}

// Config is the complete gatekeeper configuration.
type Config struct {
	Version  string         `koanf:"version" jsonschema:"required,description=Config file format version (semver)"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Auth     AuthConfig     `koanf:"auth"`
	Tokens   TokensConfig   `koanf:"tokens"`
	Sessions SessionsConfig `koanf:"sessions"`
	Throttle ThrottleConfig `koanf:"throttle"`
	Notify   NotifyConfig   `koanf:"notify"`
	Links    LinksConfig    `koanf:"links"`
	Janitor  JanitorConfig  `koanf:"janitor"`
}

// DatabaseConfig selects the account store.
type DatabaseConfig struct {
	// URL is a PostgreSQL connection string. Empty falls back to the
	// DATABASE_URL environment variable.
	URL string `koanf:"url" jsonschema:"description=PostgreSQL connection URL"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig controls the metrics and health endpoint.
type MetricsConfig struct {
	// Addr is the listen address. Empty disables the endpoint.
	Addr string `koanf:"addr" jsonschema:"description=Metrics and health listen address; empty disables"`
}

// AuthConfig holds registry behavior switches.
type AuthConfig struct {
	RequireActivation bool          `koanf:"require_activation"`
	AutoLogin         bool          `koanf:"auto_login"`
	AllowRememberMe   bool          `koanf:"allow_remember_me"`
	OperationTimeout  time.Duration `koanf:"operation_timeout"`
	Roles             []string      `koanf:"roles" jsonschema:"description=Glob patterns of roles accounts may be given; empty allows all"`
}

// TokensConfig holds token lifetimes.
type TokensConfig struct {
	ActivationTTL time.Duration `koanf:"activation_ttl"`
	ResetTTL      time.Duration `koanf:"reset_ttl"`
}

// SessionsConfig holds session lifetimes.
type SessionsConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	RememberMeTTL time.Duration `koanf:"remember_me_ttl"`
}

// ThrottleConfig controls failed-login throttling.
type ThrottleConfig struct {
	Threshold int           `koanf:"threshold" jsonschema:"minimum=1"`
	Strategy  string        `koanf:"strategy" jsonschema:"enum=fixed,enum=exponential"`
	Base      time.Duration `koanf:"base"`
	Max       time.Duration `koanf:"max"`
	RetainFor time.Duration `koanf:"retain_for"`
	PerOrigin bool          `koanf:"per_origin"`
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	Timeout     time.Duration `koanf:"timeout"`
	MaxAttempts int           `koanf:"max_attempts" jsonschema:"minimum=1"`
	RetryBase   time.Duration `koanf:"retry_base"`
	RetryCap    time.Duration `koanf:"retry_cap"`
}

// LinksConfig holds the link templates used by the CLI and server. Each
// must contain {id} and {code}.
type LinksConfig struct {
	Activation string `koanf:"activation"`
	Reset      string `koanf:"reset"`
}

// JanitorConfig controls the expired-record sweeper.
type JanitorConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// Default returns the built-in configuration. It matches DefaultYAML.
func Default() Config {
	authDefaults := auth.DefaultConfig()
	throttle := auth.DefaultThrottleConfig()
	retry := notify.DefaultRetryConfig()
	return Config{
		Version: CurrentVersion,
		Log:     LogConfig{Format: "json", Level: "info"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Auth: AuthConfig{
			RequireActivation: authDefaults.RequireActivation,
			AutoLogin:         authDefaults.AutoLogin,
			AllowRememberMe:   authDefaults.AllowRememberMe,
			OperationTimeout:  authDefaults.OperationTimeout,
		},
		Tokens: TokensConfig{
			ActivationTTL: authDefaults.ActivationTTL,
			ResetTTL:      authDefaults.ResetTTL,
		},
		Sessions: SessionsConfig{
			TTL:           authDefaults.SessionTTL,
			RememberMeTTL: authDefaults.RememberMeTTL,
		},
		Throttle: ThrottleConfig{
			Threshold: throttle.Threshold,
			Strategy:  StrategyExponential,
			Base:      auth.DefaultThrottleBase,
			Max:       auth.DefaultThrottleMax,
			RetainFor: throttle.RetainFor,
		},
		Notify: NotifyConfig{
			Timeout:     authDefaults.NotifyTimeout,
			MaxAttempts: retry.MaxAttempts,
			RetryBase:   retry.Base,
			RetryCap:    retry.Cap,
		},
		Links: LinksConfig{
			Activation: "https://example.com/activate/{id}/{code}",
			Reset:      "https://example.com/reset/{id}/{code}",
		},
		Janitor: JanitorConfig{Interval: auth.DefaultSweepInterval},
	}
}
