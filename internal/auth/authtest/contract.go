// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides test helpers for auth repository implementations.
package authtest

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Repositories bundles one implementation of every auth repository.
type Repositories struct {
	Accounts auth.AccountRepository
	Tokens   auth.TokenRepository
	Throttle auth.ThrottleRepository
	Sessions auth.SessionRepository
}

// Factory returns empty repositories for a single subtest.
type Factory func(t *testing.T) Repositories

// RunRepositoryContract checks the behavior every repository
// implementation must share. Each subtest gets fresh repositories.
func RunRepositoryContract(t *testing.T, newRepos Factory) {
	t.Run("accounts", func(t *testing.T) { accountContract(t, newRepos) })
	t.Run("tokens", func(t *testing.T) { tokenContract(t, newRepos) })
	t.Run("throttle", func(t *testing.T) { throttleContract(t, newRepos) })
	t.Run("sessions", func(t *testing.T) { sessionContract(t, newRepos) })
}

// Now is a microsecond-truncated UTC timestamp, the precision PostgreSQL keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func mustAccount(t *testing.T, repos Repositories, login string, status auth.Status) *auth.Account {
	t.Helper()
	account, err := auth.NewAccount(login, "hash-"+login, []string{"player"}, status, Now())
	require.NoError(t, err)
	require.NoError(t, repos.Accounts.Create(context.Background(), account))
	return account
}

func accountContract(t *testing.T, newRepos Factory) {
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusPending)

		byID, err := repos.Accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "ada", byID.Login)
		assert.Equal(t, []string{"player"}, byID.Roles)
		assert.Equal(t, auth.StatusPending, byID.Status)
		assert.Nil(t, byID.ActivatedAt)

		byLogin, err := repos.Accounts.GetByLogin(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, account.ID, byLogin.ID)
	})

	t.Run("duplicate login conflicts", func(t *testing.T) {
		repos := newRepos(t)
		mustAccount(t, repos, "ada", auth.StatusActive)

		dup, err := auth.NewAccount("ada", "other", nil, auth.StatusActive, Now())
		require.NoError(t, err)
		assert.ErrorIs(t, repos.Accounts.Create(ctx, dup), auth.ErrConflict)
	})

	t.Run("missing account", func(t *testing.T) {
		repos := newRepos(t)
		_, err := repos.Accounts.GetByID(ctx, ulid.Make())
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = repos.Accounts.GetByLogin(ctx, "nobody")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.ErrorIs(t, repos.Accounts.UpdatePassword(ctx, ulid.Make(), "h", Now()), auth.ErrNotFound)
		assert.ErrorIs(t, repos.Accounts.Activate(ctx, ulid.Make(), Now()), auth.ErrNotFound)
	})

	t.Run("update password", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusActive)
		later := Now().Add(time.Minute)

		require.NoError(t, repos.Accounts.UpdatePassword(ctx, account.ID, "new-hash", later))
		got, err := repos.Accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
		assert.True(t, later.Equal(got.UpdatedAt))
	})

	t.Run("replace password compares the old hash", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusActive)

		require.NoError(t, repos.Accounts.ReplacePassword(ctx, account.ID, "hash-ada", "second", Now()))
		assert.ErrorIs(t, repos.Accounts.ReplacePassword(ctx, account.ID, "hash-ada", "third", Now()), auth.ErrConflict)
		assert.ErrorIs(t, repos.Accounts.ReplacePassword(ctx, ulid.Make(), "hash-ada", "third", Now()), auth.ErrNotFound)

		got, err := repos.Accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "second", got.PasswordHash)
	})

	t.Run("activate only once", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusPending)
		at := Now()

		require.NoError(t, repos.Accounts.Activate(ctx, account.ID, at))
		got, err := repos.Accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, got.IsActive())
		require.NotNil(t, got.ActivatedAt)
		assert.True(t, at.Equal(*got.ActivatedAt))

		assert.ErrorIs(t, repos.Accounts.Activate(ctx, account.ID, at), auth.ErrConflict)
	})
}

func newToken(accountID ulid.ULID, purpose auth.Purpose, created time.Time, ttl time.Duration) *auth.Token {
	return &auth.Token{
		ID:        ulid.Make(),
		AccountID: accountID,
		Purpose:   purpose,
		Code:      ulid.Make().String(),
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

func tokenContract(t *testing.T, newRepos Factory) {
	ctx := context.Background()

	t.Run("one live token per account and purpose", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusPending)
		now := Now()

		first := newToken(account.ID, auth.PurposeActivation, now, time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, first))
		assert.ErrorIs(t, repos.Tokens.Create(ctx, newToken(account.ID, auth.PurposeActivation, now, time.Hour)), auth.ErrConflict)
		require.NoError(t, repos.Tokens.Create(ctx, newToken(account.ID, auth.PurposePasswordReset, now, time.Hour)))

		live, err := repos.Tokens.GetLive(ctx, account.ID, auth.PurposeActivation, now)
		require.NoError(t, err)
		assert.Equal(t, first.ID, live.ID)
		assert.Equal(t, first.Code, live.Code)
	})

	t.Run("consume is single use", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusPending)
		now := Now()
		tok := newToken(account.ID, auth.PurposeActivation, now, time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, tok))

		require.NoError(t, repos.Tokens.Consume(ctx, tok.ID, now))
		assert.ErrorIs(t, repos.Tokens.Consume(ctx, tok.ID, now), auth.ErrConflict)

		_, err := repos.Tokens.GetLive(ctx, account.ID, auth.PurposeActivation, now)
		assert.ErrorIs(t, err, auth.ErrNotFound)

		require.NoError(t, repos.Tokens.Create(ctx, newToken(account.ID, auth.PurposeActivation, now, time.Hour)),
			"a consumed token does not block a new one")
	})

	t.Run("release undoes one consume", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusPending)
		now := Now()
		tok := newToken(account.ID, auth.PurposeActivation, now, time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, tok))
		require.NoError(t, repos.Tokens.Consume(ctx, tok.ID, now))

		assert.ErrorIs(t, repos.Tokens.Release(ctx, tok.ID, now.Add(time.Second)), auth.ErrConflict,
			"only the consume that happened can be undone")
		require.NoError(t, repos.Tokens.Release(ctx, tok.ID, now))

		live, err := repos.Tokens.GetLive(ctx, account.ID, auth.PurposeActivation, now)
		require.NoError(t, err)
		assert.Equal(t, tok.ID, live.ID)
		assert.ErrorIs(t, repos.Tokens.Release(ctx, tok.ID, now), auth.ErrConflict, "not consumed")
	})

	t.Run("release is refused once a newer token is live", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusPending)
		now := Now()
		tok := newToken(account.ID, auth.PurposePasswordReset, now, time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, tok))
		require.NoError(t, repos.Tokens.Consume(ctx, tok.ID, now))
		fresh := newToken(account.ID, auth.PurposePasswordReset, now, time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, fresh))

		assert.ErrorIs(t, repos.Tokens.Release(ctx, tok.ID, now), auth.ErrConflict)

		live, err := repos.Tokens.GetLive(ctx, account.ID, auth.PurposePasswordReset, now)
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, live.ID)
	})

	t.Run("expired tokens are not live", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusPending)
		now := Now()
		tok := newToken(account.ID, auth.PurposePasswordReset, now.Add(-2*time.Hour), time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, tok))

		_, err := repos.Tokens.GetLive(ctx, account.ID, auth.PurposePasswordReset, now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.ErrorIs(t, repos.Tokens.Consume(ctx, tok.ID, now), auth.ErrConflict)

		n, err := repos.Tokens.DeleteExpiredFor(ctx, account.ID, auth.PurposeActivation, now)
		require.NoError(t, err)
		assert.Zero(t, n, "other purposes are untouched")

		n, err = repos.Tokens.DeleteExpiredFor(ctx, account.ID, auth.PurposePasswordReset, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("delete inert", func(t *testing.T) {
		repos := newRepos(t)
		now := Now()
		a := mustAccount(t, repos, "a", auth.StatusPending)
		b := mustAccount(t, repos, "b", auth.StatusPending)
		c := mustAccount(t, repos, "c", auth.StatusPending)

		consumed := newToken(a.ID, auth.PurposeActivation, now, time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, consumed))
		require.NoError(t, repos.Tokens.Consume(ctx, consumed.ID, now))
		require.NoError(t, repos.Tokens.Create(ctx, newToken(b.ID, auth.PurposeActivation, now.Add(-2*time.Hour), time.Hour)))
		live := newToken(c.ID, auth.PurposeActivation, now, time.Hour)
		require.NoError(t, repos.Tokens.Create(ctx, live))

		n, err := repos.Tokens.DeleteInert(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := repos.Tokens.GetLive(ctx, c.ID, auth.PurposeActivation, now)
		require.NoError(t, err)
		assert.Equal(t, live.ID, got.ID)
	})
}

func throttleContract(t *testing.T, newRepos Factory) {
	ctx := context.Background()

	t.Run("increment counts from one", func(t *testing.T) {
		repos := newRepos(t)
		now := Now()

		_, err := repos.Throttle.Get(ctx, "login:ada")
		assert.ErrorIs(t, err, auth.ErrNotFound)

		for want := 1; want <= 3; want++ {
			n, err := repos.Throttle.Increment(ctx, "login:ada", now)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}

		rec, err := repos.Throttle.Get(ctx, "login:ada")
		require.NoError(t, err)
		assert.Equal(t, 3, rec.Failures)
		assert.Nil(t, rec.CooldownUntil)
	})

	t.Run("cooldown and delete", func(t *testing.T) {
		repos := newRepos(t)
		now := Now()
		_, err := repos.Throttle.Increment(ctx, "k", now)
		require.NoError(t, err)

		until := now.Add(time.Minute)
		require.NoError(t, repos.Throttle.SetCooldown(ctx, "k", until, now))
		rec, err := repos.Throttle.Get(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, rec.CooldownUntil)
		assert.True(t, until.Equal(*rec.CooldownUntil))

		require.NoError(t, repos.Throttle.Delete(ctx, "k"))
		require.NoError(t, repos.Throttle.Delete(ctx, "k"))
		_, err = repos.Throttle.Get(ctx, "k")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("delete idle keeps active cooldowns", func(t *testing.T) {
		repos := newRepos(t)
		now := Now()
		old := now.Add(-2 * time.Hour)

		_, err := repos.Throttle.Increment(ctx, "idle", old)
		require.NoError(t, err)
		_, err = repos.Throttle.Increment(ctx, "cooling", old)
		require.NoError(t, err)
		require.NoError(t, repos.Throttle.SetCooldown(ctx, "cooling", now.Add(time.Minute), old))
		_, err = repos.Throttle.Increment(ctx, "recent", now)
		require.NoError(t, err)

		n, err := repos.Throttle.DeleteIdle(ctx, now.Add(-time.Hour), now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = repos.Throttle.Get(ctx, "idle")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = repos.Throttle.Get(ctx, "cooling")
		assert.NoError(t, err)
	})
}

func sessionContract(t *testing.T, newRepos Factory) {
	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		repos := newRepos(t)
		account := mustAccount(t, repos, "ada", auth.StatusActive)
		now := Now()

		session, err := auth.NewSession(account.ID, "hash-1", true, "agent", "origin", now, now.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, repos.Sessions.Create(ctx, session))

		got, err := repos.Sessions.GetByTokenHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.True(t, got.RememberMe)
		assert.Equal(t, "agent", got.UserAgent)

		seen := now.Add(time.Minute)
		require.NoError(t, repos.Sessions.UpdateLastSeen(ctx, session.ID, seen))
		got, err = repos.Sessions.GetByTokenHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.True(t, seen.Equal(got.LastSeenAt))

		require.NoError(t, repos.Sessions.Delete(ctx, session.ID))
		assert.ErrorIs(t, repos.Sessions.Delete(ctx, session.ID), auth.ErrNotFound)
		_, err = repos.Sessions.GetByTokenHash(ctx, "hash-1")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.ErrorIs(t, repos.Sessions.UpdateLastSeen(ctx, session.ID, seen), auth.ErrNotFound)
	})

	t.Run("bulk deletes", func(t *testing.T) {
		repos := newRepos(t)
		ada := mustAccount(t, repos, "ada", auth.StatusActive)
		bob := mustAccount(t, repos, "bob", auth.StatusActive)
		now := Now()

		for i, spec := range []struct {
			account ulid.ULID
			ttl     time.Duration
		}{
			{ada.ID, time.Hour},
			{ada.ID, time.Minute},
			{bob.ID, time.Minute},
			{bob.ID, time.Hour},
		} {
			s, err := auth.NewSession(spec.account, "hash-"+string(rune('a'+i)), false, "", "", now, now.Add(spec.ttl))
			require.NoError(t, err)
			require.NoError(t, repos.Sessions.Create(ctx, s))
		}

		n, err := repos.Sessions.DeleteByAccount(ctx, ada.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = repos.Sessions.DeleteExpired(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "expiry instant counts as expired")
	})
}
