// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the account identity lifecycle for gatekeeper.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an Account with a normalized login and role set
//   - NewSession - creates a Session with validated account and expiry
//
// Tokens are minted only by TokenStore.Issue, which enforces that at most
// one live token exists per account and purpose.
//
// # Components
//
//   - PasswordHasher (Argon2idHasher) - hashes and verifies credentials
//   - TokenStore - single-use activation and password-reset tokens
//   - ThrottleGuard - failure counting and cool-down after repeated failures
//   - Registry - register, authenticate, activate, reset and session workflows
//   - Notifier - outbound port for activation and reset links
//
// Persistence is reached only through the repository interfaces defined
// here. See the memory and postgres subpackages for implementations.
//
// # Errors
//
// Every error returned by Registry wraps one of the Err* sentinels and
// carries a matching oops code. KindOf maps an error to its Kind.
package auth
