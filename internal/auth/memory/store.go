// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-memory implementations of the auth
// repositories for tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Store implements every auth repository behind one mutex. Values are
// copied on the way in and out so callers never share state with the store.
type Store struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
	logins   map[string]ulid.ULID
	tokens   map[ulid.ULID]*auth.Token
	throttle map[string]*auth.ThrottleRecord
	sessions map[ulid.ULID]*auth.Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]*auth.Account),
		logins:   make(map[string]ulid.ULID),
		tokens:   make(map[ulid.ULID]*auth.Token),
		throttle: make(map[string]*auth.ThrottleRecord),
		sessions: make(map[ulid.ULID]*auth.Session),
	}
}

// Accounts returns the store as an auth.AccountRepository.
func (s *Store) Accounts() *AccountRepository { return (*AccountRepository)(s) }

// Tokens returns the store as an auth.TokenRepository.
func (s *Store) Tokens() *TokenRepository { return (*TokenRepository)(s) }

// Throttle returns the store as an auth.ThrottleRepository.
func (s *Store) Throttle() *ThrottleRepository { return (*ThrottleRepository)(s) }

// Sessions returns the store as an auth.SessionRepository.
func (s *Store) Sessions() *SessionRepository { return (*SessionRepository)(s) }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// AccountRepository is the account view of a Store.
type AccountRepository Store

// TokenRepository is the token view of a Store.
type TokenRepository Store

// ThrottleRepository is the throttle view of a Store.
type ThrottleRepository Store

// SessionRepository is the session view of a Store.
type SessionRepository Store

var (
	_ auth.AccountRepository  = (*AccountRepository)(nil)
	_ auth.TokenRepository    = (*TokenRepository)(nil)
	_ auth.ThrottleRepository = (*ThrottleRepository)(nil)
	_ auth.SessionRepository  = (*SessionRepository)(nil)
)

func copyAccount(a *auth.Account) *auth.Account {
	c := *a
	c.Roles = append([]string(nil), a.Roles...)
	if a.ActivatedAt != nil {
		t := *a.ActivatedAt
		c.ActivatedAt = &t
	}
	return &c
}

func copyToken(t *auth.Token) *auth.Token {
	c := *t
	if t.ConsumedAt != nil {
		ts := *t.ConsumedAt
		c.ConsumedAt = &ts
	}
	return &c
}

func copyThrottle(r *auth.ThrottleRecord) *auth.ThrottleRecord {
	c := *r
	if r.CooldownUntil != nil {
		t := *r.CooldownUntil
		c.CooldownUntil = &t
	}
	return &c
}

func copySession(s *auth.Session) *auth.Session {
	c := *s
	return &c
}

// Create stores a new account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.logins[account.Login]; taken {
		return oops.Code("ACCOUNT_LOGIN_TAKEN").With("login", account.Login).Wrap(auth.ErrConflict)
	}
	if _, exists := r.accounts[account.ID]; exists {
		return oops.Code("ACCOUNT_ID_TAKEN").With("id", account.ID.String()).Wrap(auth.ErrConflict)
	}
	r.accounts[account.ID] = copyAccount(account)
	r.logins[account.Login] = account.ID
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return copyAccount(a), nil
}

// GetByLogin retrieves an account by normalized login.
func (r *AccountRepository) GetByLogin(_ context.Context, login string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.logins[login]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("login", login).Wrap(auth.ErrNotFound)
	}
	return copyAccount(r.accounts[id]), nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = now
	return nil
}

// ReplacePassword swaps oldHash for newHash if oldHash is still stored.
func (r *AccountRepository) ReplacePassword(_ context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if a.PasswordHash != oldHash {
		return oops.Code("ACCOUNT_PASSWORD_CHANGED").With("id", id.String()).Wrap(auth.ErrConflict)
	}
	a.PasswordHash = newHash
	a.UpdatedAt = now
	return nil
}

// Activate moves a pending account to active.
func (r *AccountRepository) Activate(_ context.Context, id ulid.ULID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if a.Status != auth.StatusPending {
		return oops.Code("ACCOUNT_NOT_PENDING").With("id", id.String()).Wrap(auth.ErrConflict)
	}
	activated := now
	a.Status = auth.StatusActive
	a.ActivatedAt = &activated
	a.UpdatedAt = now
	return nil
}

// Create stores a new token.
func (r *TokenRepository) Create(_ context.Context, token *auth.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.AccountID == token.AccountID && t.Purpose == token.Purpose && !t.IsConsumed() && !t.IsExpiredAt(token.CreatedAt) {
			return oops.Code("TOKEN_LIVE_EXISTS").
				With("account_id", token.AccountID.String()).
				With("purpose", token.Purpose).
				Wrap(auth.ErrConflict)
		}
	}
	r.tokens[token.ID] = copyToken(token)
	return nil
}

// GetLive returns the live token for the account and purpose.
func (r *TokenRepository) GetLive(_ context.Context, accountID ulid.ULID, purpose auth.Purpose, now time.Time) (*auth.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.AccountID == accountID && t.Purpose == purpose && t.IsLiveAt(now) {
			return copyToken(t), nil
		}
	}
	return nil, oops.Code("TOKEN_NOT_FOUND").
		With("account_id", accountID.String()).
		With("purpose", purpose).
		Wrap(auth.ErrNotFound)
}

// Consume marks the token consumed if it is still live.
func (r *TokenRepository) Consume(_ context.Context, id ulid.ULID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok {
		return oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if !t.IsLiveAt(now) {
		return oops.Code("TOKEN_NOT_LIVE").With("id", id.String()).Wrap(auth.ErrConflict)
	}
	consumed := now
	t.ConsumedAt = &consumed
	return nil
}

// Release clears the consumed mark left by a Consume at consumedAt.
func (r *TokenRepository) Release(_ context.Context, id ulid.ULID, consumedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok {
		return oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if t.ConsumedAt == nil || !t.ConsumedAt.Equal(consumedAt) {
		return oops.Code("TOKEN_NOT_RELEASABLE").With("id", id.String()).Wrap(auth.ErrConflict)
	}
	for other, o := range r.tokens {
		if other != id && o.AccountID == t.AccountID && o.Purpose == t.Purpose && !o.IsConsumed() {
			return oops.Code("TOKEN_LIVE_EXISTS").
				With("account_id", t.AccountID.String()).
				With("purpose", t.Purpose).
				Wrap(auth.ErrConflict)
		}
	}
	t.ConsumedAt = nil
	return nil
}

// DeleteExpiredFor removes expired unconsumed tokens for one account and purpose.
func (r *TokenRepository) DeleteExpiredFor(_ context.Context, accountID ulid.ULID, purpose auth.Purpose, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.tokens {
		if t.AccountID == accountID && t.Purpose == purpose && !t.IsConsumed() && t.IsExpiredAt(now) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// DeleteInert removes every expired or consumed token.
func (r *TokenRepository) DeleteInert(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.tokens {
		if !t.IsLiveAt(now) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// Get retrieves the throttle record for key.
func (r *ThrottleRepository) Get(_ context.Context, key string) (*auth.ThrottleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.throttle[key]
	if !ok {
		return nil, oops.Code("THROTTLE_NOT_FOUND").With("key", key).Wrap(auth.ErrNotFound)
	}
	return copyThrottle(rec), nil
}

// Increment adds one failure for key.
func (r *ThrottleRepository) Increment(_ context.Context, key string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.throttle[key]
	if !ok {
		rec = &auth.ThrottleRecord{Key: key}
		r.throttle[key] = rec
	}
	rec.Failures++
	rec.UpdatedAt = now
	return rec.Failures, nil
}

// SetCooldown sets the cool-down deadline for key.
func (r *ThrottleRepository) SetCooldown(_ context.Context, key string, until, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.throttle[key]
	if !ok {
		rec = &auth.ThrottleRecord{Key: key}
		r.throttle[key] = rec
	}
	u := until
	rec.CooldownUntil = &u
	rec.UpdatedAt = now
	return nil
}

// Delete removes the record for key.
func (r *ThrottleRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.throttle, key)
	return nil
}

// DeleteIdle removes records idle since cutoff whose cool-down has lapsed.
func (r *ThrottleRepository) DeleteIdle(_ context.Context, cutoff, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key, rec := range r.throttle {
		if rec.UpdatedAt.Before(cutoff) && rec.CooldownRemaining(now) == 0 {
			delete(r.throttle, key)
			n++
		}
	}
	return n, nil
}

// Create stores a new session.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = copySession(session)
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.TokenHash == tokenHash {
			return copySession(s), nil
		}
	}
	return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// UpdateLastSeen updates the LastSeenAt timestamp for a session.
func (r *SessionRepository) UpdateLastSeen(_ context.Context, id ulid.ULID, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	s.LastSeenAt = lastSeen
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.sessions, id)
	return nil
}

// DeleteByAccount removes all sessions for an account.
func (r *SessionRepository) DeleteByAccount(_ context.Context, accountID ulid.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.AccountID == accountID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes all sessions expired at now.
func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.IsExpiredAt(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
