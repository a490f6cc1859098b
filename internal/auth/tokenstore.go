// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Clock returns the current time. A nil Clock means time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// TokenStore issues, finds and consumes single-use tokens.
// It is safe for concurrent use.
type TokenStore struct {
	repo  TokenRepository
	clock Clock
	locks *keyLock
}

// NewTokenStore creates a TokenStore backed by repo.
func NewTokenStore(repo TokenRepository, clock Clock) (*TokenStore, error) {
	if repo == nil {
		return nil, oops.Errorf("token repository is required")
	}
	return &TokenStore{repo: repo, clock: clock, locks: newKeyLock()}, nil
}

func tokenKey(accountID ulid.ULID, purpose Purpose) string {
	return accountID.String() + "/" + string(purpose)
}

// Issue returns the live token for the account and purpose, minting one
// with the given ttl if none exists.
func (s *TokenStore) Issue(ctx context.Context, accountID ulid.ULID, purpose Purpose, ttl time.Duration) (*Token, error) {
	if !purpose.Valid() {
		return nil, oops.Code(CodeInvalidInput).With("purpose", purpose).Wrapf(ErrInvalidInput, "unknown token purpose")
	}
	if ttl <= 0 {
		return nil, oops.Code(CodeInvalidInput).With("ttl", ttl).Wrapf(ErrInvalidInput, "token ttl must be positive")
	}

	unlock := s.locks.lock(tokenKey(accountID, purpose))
	defer unlock()

	now := s.clock.now()
	if _, err := s.repo.DeleteExpiredFor(ctx, accountID, purpose, now); err != nil {
		return nil, transient("evict expired tokens", err)
	}

	existing, err := s.repo.GetLive(ctx, accountID, purpose, now)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, transient("get live token", err)
	}

	token, err := newToken(accountID, purpose, now, ttl)
	if err != nil {
		return nil, transient("generate token", err)
	}
	if err := s.repo.Create(ctx, token); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, transient("create token", err)
		}
		// Another process minted one between our read and write.
		existing, getErr := s.repo.GetLive(ctx, accountID, purpose, now)
		if getErr != nil {
			return nil, transient("get live token", getErr)
		}
		return existing, nil
	}

	TokensIssued.WithLabelValues(string(purpose)).Inc()
	return token, nil
}

// Find returns the live token for the account and purpose if its code
// matches. Expired tokens for the key are evicted first.
func (s *TokenStore) Find(ctx context.Context, accountID ulid.ULID, purpose Purpose, code string) (*Token, error) {
	now := s.clock.now()
	if _, err := s.repo.DeleteExpiredFor(ctx, accountID, purpose, now); err != nil {
		return nil, transient("evict expired tokens", err)
	}

	token, err := s.repo.GetLive(ctx, accountID, purpose, now)
	if errors.Is(err, ErrNotFound) {
		return nil, tokenInvalid(accountID, purpose)
	}
	if err != nil {
		return nil, transient("get live token", err)
	}
	if !token.Matches(code) {
		return nil, tokenInvalid(accountID, purpose)
	}
	return token, nil
}

// Consume marks token as used. When several callers race on the same token
// exactly one succeeds; the others receive ErrTokenInvalid.
func (s *TokenStore) Consume(ctx context.Context, token *Token) error {
	now := s.clock.now()
	err := s.repo.Consume(ctx, token.ID, now)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return tokenInvalid(token.AccountID, token.Purpose)
	}
	if err != nil {
		return transient("consume token", err)
	}
	token.ConsumedAt = &now
	TokensConsumed.WithLabelValues(string(token.Purpose)).Inc()
	return nil
}

// Release makes a consumed token live again so its code can be retried
// after the write that consumed it failed. It fails with ErrTokenInvalid if
// the token was consumed by someone else or replaced in the meantime.
func (s *TokenStore) Release(ctx context.Context, token *Token) error {
	if token.ConsumedAt == nil {
		return nil
	}

	unlock := s.locks.lock(tokenKey(token.AccountID, token.Purpose))
	defer unlock()

	err := s.repo.Release(ctx, token.ID, *token.ConsumedAt)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return tokenInvalid(token.AccountID, token.Purpose)
	}
	if err != nil {
		return transient("release token", err)
	}
	token.ConsumedAt = nil
	TokensReleased.WithLabelValues(string(token.Purpose)).Inc()
	return nil
}

// Sweep deletes every expired or consumed token and returns the count.
func (s *TokenStore) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteInert(ctx, s.clock.now())
	if err != nil {
		return 0, transient("sweep tokens", err)
	}
	return n, nil
}

func tokenInvalid(accountID ulid.ULID, purpose Purpose) error {
	return oops.Code(CodeTokenInvalid).
		With("account_id", accountID.String()).
		With("purpose", purpose).
		Wrap(ErrTokenInvalid)
}
