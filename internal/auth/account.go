// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxLoginLength bounds a login after normalization. Logins are usually
// email addresses, which are limited to 254 octets.
const MaxLoginLength = 254

// Status is the activation state of an account.
type Status string

// Account statuses.
const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusActive
}

// Account is a registered identity.
type Account struct {
	ID           ulid.ULID
	Login        string
	PasswordHash string
	Roles        []string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ActivatedAt  *time.Time
}

// NewAccount creates a validated Account with a fresh ID.
// The login is normalized and the role set is sorted and de-duplicated.
func NewAccount(login, passwordHash string, roles []string, status Status, now time.Time) (*Account, error) {
	normalized, err := ValidateLogin(login)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "password hash cannot be empty")
	}
	if !status.Valid() {
		return nil, oops.Code(CodeInvalidInput).With("status", status).Wrapf(ErrInvalidInput, "unknown account status")
	}

	a := &Account{
		ID:           ulid.Make(),
		Login:        normalized,
		PasswordHash: passwordHash,
		Roles:        NormalizeRoles(roles),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if status == StatusActive {
		activated := now
		a.ActivatedAt = &activated
	}
	return a, nil
}

// IsActive returns true once the account has been activated.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// HasRole reports whether the account holds role.
func (a *Account) HasRole(role string) bool {
	_, found := slices.BinarySearch(a.Roles, role)
	return found
}

// NormalizeLogin returns the canonical form used for uniqueness and lookups.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// ValidateLogin normalizes login and rejects empty or oversized values.
func ValidateLogin(login string) (string, error) {
	normalized := NormalizeLogin(login)
	if normalized == "" {
		return "", oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "login cannot be empty")
	}
	if len(normalized) > MaxLoginLength {
		return "", oops.Code(CodeInvalidInput).
			With("max", MaxLoginLength).
			Wrapf(ErrInvalidInput, "login must be at most %d characters", MaxLoginLength)
	}
	return normalized, nil
}

// NormalizeRoles trims, drops empties, sorts and de-duplicates role names.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account.
	// Returns ErrConflict if the login is already taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	// Returns ErrNotFound if no account has the given ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByLogin retrieves an account by normalized login.
	// Returns ErrNotFound if no account has the given login.
	GetByLogin(ctx context.Context, login string) (*Account, error)

	// UpdatePassword replaces the password hash in a single write.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error

	// ReplacePassword swaps oldHash for newHash only if oldHash is still
	// the stored hash. Returns ErrConflict if it is not and ErrNotFound if
	// the account does not exist.
	ReplacePassword(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) error

	// Activate moves a pending account to active.
	// Returns ErrConflict if the account is not pending.
	Activate(ctx context.Context, id ulid.ULID, now time.Time) error
}
