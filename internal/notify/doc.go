// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify provides auth.Notifier implementations.
//
// LogNotifier writes each notification to a slog.Logger and is what
// gatekeeper uses when no delivery channel is configured. RetryNotifier
// wraps another Notifier and retries failed sends with capped exponential
// backoff.
package notify
