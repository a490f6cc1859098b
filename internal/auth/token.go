// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenCodeBytes is the entropy of a token code (32 bytes = 64 hex chars).
const TokenCodeBytes = 32

// Purpose distinguishes what a token authorizes.
type Purpose string

// Token purposes.
const (
	PurposeActivation    Purpose = "activation"
	PurposePasswordReset Purpose = "password-reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeActivation || p == PurposePasswordReset
}

// Subject is the message subject used when notifying about a token of this purpose.
func (p Purpose) Subject() string {
	switch p {
	case PurposeActivation:
		return "Activate your account"
	case PurposePasswordReset:
		return "Reset your password"
	default:
		return string(p)
	}
}

// Token is a single-use code bound to an account and a purpose.
type Token struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	Purpose    Purpose
	Code       string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// IsConsumed returns true once the token has been used.
func (t *Token) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsExpiredAt returns true if the token is expired at the given time.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsLiveAt returns true if the token is neither consumed nor expired at now.
func (t *Token) IsLiveAt(now time.Time) bool {
	return !t.IsConsumed() && !t.IsExpiredAt(now)
}

// Matches compares code against the token code in constant time.
func (t *Token) Matches(code string) bool {
	if code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.Code), []byte(code)) == 1
}

// newToken mints a token with a fresh random code.
func newToken(accountID ulid.ULID, purpose Purpose, now time.Time, ttl time.Duration) (*Token, error) {
	code, err := GenerateTokenCode()
	if err != nil {
		return nil, err
	}
	return &Token{
		ID:        ulid.Make(),
		AccountID: accountID,
		Purpose:   purpose,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// GenerateTokenCode returns a hex-encoded random code of TokenCodeBytes bytes.
func GenerateTokenCode() (string, error) {
	b := make([]byte, TokenCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenCodeBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// TokenRepository manages token persistence.
type TokenRepository interface {
	// Create stores a new token.
	// Returns ErrConflict if a live token already exists for the account and purpose.
	Create(ctx context.Context, token *Token) error

	// GetLive returns the unconsumed, unexpired token for the account and purpose.
	// Returns ErrNotFound if there is none.
	GetLive(ctx context.Context, accountID ulid.ULID, purpose Purpose, now time.Time) (*Token, error)

	// Consume marks the token consumed if it is still live at now.
	// Returns ErrConflict if it was already consumed or has expired.
	Consume(ctx context.Context, id ulid.ULID, now time.Time) error

	// Release clears the consumed mark left by a Consume at consumedAt.
	// Returns ErrConflict if the token was not consumed at consumedAt or
	// another live token now exists for the account and purpose.
	Release(ctx context.Context, id ulid.ULID, consumedAt time.Time) error

	// DeleteExpiredFor removes expired unconsumed tokens for one account and purpose.
	DeleteExpiredFor(ctx context.Context, accountID ulid.ULID, purpose Purpose, now time.Time) (int64, error)

	// DeleteInert removes every expired or consumed token.
	DeleteInert(ctx context.Context, now time.Time) (int64, error)
}
