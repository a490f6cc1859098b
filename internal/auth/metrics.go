// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for authentication metrics.
const (
	ResultSuccess      = "success"
	ResultInvalid      = "invalid"
	ResultThrottled    = "throttled"
	ResultNotActivated = "not_activated"
	ResultError        = "error"
)

// Registrations counts created accounts by whether activation was required.
var Registrations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_registrations_total",
		Help: "Total number of registered accounts",
	},
	[]string{"activation"},
)

// Authentications counts authentication attempts by result.
var Authentications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_authentications_total",
		Help: "Total number of authentication attempts by result",
	},
	[]string{"result"},
)

// AuthenticationDuration observes how long an authentication attempt takes.
var AuthenticationDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "gatekeeper_authentication_duration_seconds",
		Help:    "Authentication duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// TokensIssued counts newly minted tokens by purpose.
var TokensIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_tokens_issued_total",
		Help: "Total number of tokens minted by purpose",
	},
	[]string{"purpose"},
)

// TokensConsumed counts successfully consumed tokens by purpose.
var TokensConsumed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_tokens_consumed_total",
		Help: "Total number of tokens consumed by purpose",
	},
	[]string{"purpose"},
)

// TokensReleased counts consumed tokens made live again after the write
// that consumed them failed.
var TokensReleased = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_tokens_released_total",
		Help: "Total number of consumed tokens released for retry by purpose",
	},
	[]string{"purpose"},
)

// Notifications counts notification attempts by purpose and status.
var Notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_notifications_total",
		Help: "Total number of notifications by purpose and status",
	},
	[]string{"purpose", "status"},
)

// ThrottleCooldowns counts cool-downs started by the throttle guard.
var ThrottleCooldowns = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gatekeeper_throttle_cooldowns_total",
		Help: "Total number of throttle cool-downs started",
	},
)

// SweptRecords counts records removed by the sweeper by kind.
var SweptRecords = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_swept_records_total",
		Help: "Total number of expired records removed by kind",
	},
	[]string{"kind"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Registrations)
	reg.MustRegister(Authentications)
	reg.MustRegister(AuthenticationDuration)
	reg.MustRegister(TokensIssued)
	reg.MustRegister(TokensConsumed)
	reg.MustRegister(TokensReleased)
	reg.MustRegister(Notifications)
	reg.MustRegister(ThrottleCooldowns)
	reg.MustRegister(SweptRecords)
}

func recordAuthentication(result string, started time.Time) {
	Authentications.WithLabelValues(result).Inc()
	AuthenticationDuration.Observe(time.Since(started).Seconds())
}
