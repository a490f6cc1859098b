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

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, login, password_hash, roles, status, created_at, updated_at, activated_at`

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	roles := account.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		account.ID.String(),
		account.Login,
		account.PasswordHash,
		roles,
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
		account.ActivatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_LOGIN_TAKEN").
			With("login", account.Login).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("login", account.Login).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByLogin retrieves an account by normalized login.
func (r *AccountRepository) GetByLogin(ctx context.Context, login string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE login = $1`, login)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("login", login).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by login").
			Wrap(err)
	}
	return account, nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id.String(), passwordHash, now)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ReplacePassword swaps oldHash for newHash in one conditional update so
// concurrent changes cannot both win.
func (r *AccountRepository) ReplacePassword(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2
	`, id.String(), oldHash, newHash, now)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "replace password").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "check account exists").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return oops.Code("ACCOUNT_PASSWORD_CHANGED").With("id", id.String()).Wrap(auth.ErrConflict)
}

// Activate moves a pending account to active.
func (r *AccountRepository) Activate(ctx context.Context, id ulid.ULID, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET status = 'active', activated_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id.String(), now)
	if err != nil {
		return oops.Code("ACCOUNT_ACTIVATE_FAILED").
			With("operation", "activate account").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return oops.Code("ACCOUNT_ACTIVATE_FAILED").
			With("operation", "check account exists").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return oops.Code("ACCOUNT_NOT_PENDING").With("id", id.String()).Wrap(auth.ErrConflict)
}

func (r *AccountRepository) exists(ctx context.Context, id ulid.ULID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id.String()).Scan(&exists)
	return exists, err //nolint:wrapcheck // Callers wrap with operation context
}

// scanAccount scans a row into an Account. pgx.ErrNoRows is returned
// unchanged for callers to handle.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr       string
		account     auth.Account
		status      string
		activatedAt *time.Time
	)
	err := row.Scan(
		&idStr,
		&account.Login,
		&account.PasswordHash,
		&account.Roles,
		&status,
		&account.CreatedAt,
		&account.UpdatedAt,
		&activatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	account.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	account.Status = auth.Status(status)
	if !account.Status.Valid() {
		return nil, oops.Code("ACCOUNT_INVALID_STATUS").
			With("id", idStr).
			With("status", status).
			Errorf("unknown account status %q", status)
	}
	account.ActivatedAt = activatedAt
	return &account, nil
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
