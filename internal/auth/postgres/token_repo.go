// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// TokenRepository implements auth.TokenRepository using PostgreSQL.
// A partial unique index on (account_id, purpose) WHERE consumed_at IS NULL
// backs the one-live-token rule.
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

const tokenColumns = `id, account_id, purpose, code, created_at, expires_at, consumed_at`

// Create stores a new token.
func (r *TokenRepository) Create(ctx context.Context, token *auth.Token) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO auth_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.AccountID.String(),
		string(token.Purpose),
		token.Code,
		token.CreatedAt,
		token.ExpiresAt,
		token.ConsumedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("TOKEN_LIVE_EXISTS").
			With("account_id", token.AccountID.String()).
			With("purpose", token.Purpose).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetLive returns the unconsumed, unexpired token for the account and purpose.
func (r *TokenRepository) GetLive(ctx context.Context, accountID ulid.ULID, purpose auth.Purpose, now time.Time) (*auth.Token, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM auth_tokens
		WHERE account_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID.String(), string(purpose), now)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("account_id", accountID.String()).
			With("purpose", purpose).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get live token").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return token, nil
}

// Consume marks the token consumed if it is still live. The conditional
// update makes concurrent consumers race on the row lock; only one sees a
// row affected.
func (r *TokenRepository) Consume(ctx context.Context, id ulid.ULID, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE auth_tokens
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2
	`, id.String(), now)
	if err != nil {
		return oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "consume token").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_LIVE").
			With("id", id.String()).
			Wrap(auth.ErrConflict)
	}
	return nil
}

// Release clears the consumed mark left by a Consume at consumedAt. The
// partial unique index rejects the update if another token went live for
// the same account and purpose in the meantime.
func (r *TokenRepository) Release(ctx context.Context, id ulid.ULID, consumedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE auth_tokens
		SET consumed_at = NULL
		WHERE id = $1 AND consumed_at = $2
	`, id.String(), consumedAt)
	if isUniqueViolation(err) {
		return oops.Code("TOKEN_LIVE_EXISTS").
			With("id", id.String()).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("TOKEN_RELEASE_FAILED").
			With("operation", "release token").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_RELEASABLE").
			With("id", id.String()).
			Wrap(auth.ErrConflict)
	}
	return nil
}

// DeleteExpiredFor removes expired unconsumed tokens for one account and purpose.
func (r *TokenRepository) DeleteExpiredFor(ctx context.Context, accountID ulid.ULID, purpose auth.Purpose, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM auth_tokens
		WHERE account_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at <= $3
	`, accountID.String(), string(purpose), now)
	if err != nil {
		return 0, oops.Code("TOKEN_EVICT_FAILED").
			With("operation", "delete expired tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteInert removes every expired or consumed token.
func (r *TokenRepository) DeleteInert(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM auth_tokens WHERE consumed_at IS NOT NULL OR expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("TOKEN_SWEEP_FAILED").
			With("operation", "delete inert tokens").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*auth.Token, error) {
	var (
		idStr, accountIDStr, purpose string
		token                        auth.Token
	)
	err := row.Scan(
		&idStr,
		&accountIDStr,
		&purpose,
		&token.Code,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	if token.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if token.AccountID, err = ulid.Parse(accountIDStr); err != nil {
		return nil, oops.Code("TOKEN_INVALID_ACCOUNT_ID").With("account_id", accountIDStr).Wrap(err)
	}
	token.Purpose = auth.Purpose(purpose)
	return &token, nil
}

var _ auth.TokenRepository = (*TokenRepository)(nil)
