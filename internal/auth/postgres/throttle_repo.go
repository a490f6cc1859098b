// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// ThrottleRepository implements auth.ThrottleRepository using PostgreSQL.
type ThrottleRepository struct {
	db DBTX
}

// NewThrottleRepository creates a new ThrottleRepository.
func NewThrottleRepository(db DBTX) *ThrottleRepository {
	return &ThrottleRepository{db: db}
}

// Get retrieves the record for key.
func (r *ThrottleRepository) Get(ctx context.Context, key string) (*auth.ThrottleRecord, error) {
	var rec auth.ThrottleRecord
	err := r.db.QueryRow(ctx, `
		SELECT key, failures, cooldown_until, updated_at FROM throttle_records WHERE key = $1
	`, key).Scan(&rec.Key, &rec.Failures, &rec.CooldownUntil, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("THROTTLE_NOT_FOUND").With("key", key).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("THROTTLE_GET_FAILED").
			With("operation", "get throttle record").
			With("key", key).
			Wrap(err)
	}
	return &rec, nil
}

// Increment atomically adds one failure for key and returns the new count.
func (r *ThrottleRepository) Increment(ctx context.Context, key string, now time.Time) (int, error) {
	var failures int
	err := r.db.QueryRow(ctx, `
		INSERT INTO throttle_records (key, failures, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE
		SET failures = throttle_records.failures + 1, updated_at = EXCLUDED.updated_at
		RETURNING failures
	`, key, now).Scan(&failures)
	if err != nil {
		return 0, oops.Code("THROTTLE_INCREMENT_FAILED").
			With("operation", "increment failures").
			With("key", key).
			Wrap(err)
	}
	return failures, nil
}

// SetCooldown sets the cool-down deadline for key.
func (r *ThrottleRepository) SetCooldown(ctx context.Context, key string, until, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE throttle_records SET cooldown_until = $2, updated_at = $3 WHERE key = $1
	`, key, until, now)
	if err != nil {
		return oops.Code("THROTTLE_COOLDOWN_FAILED").
			With("operation", "set cooldown").
			With("key", key).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("THROTTLE_NOT_FOUND").With("key", key).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes the record for key.
func (r *ThrottleRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM throttle_records WHERE key = $1`, key); err != nil {
		return oops.Code("THROTTLE_DELETE_FAILED").
			With("operation", "delete throttle record").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// DeleteIdle removes records last updated before cutoff whose cool-down has lapsed.
func (r *ThrottleRepository) DeleteIdle(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM throttle_records
		WHERE updated_at < $1 AND (cooldown_until IS NULL OR cooldown_until <= $2)
	`, cutoff, now)
	if err != nil {
		return 0, oops.Code("THROTTLE_SWEEP_FAILED").
			With("operation", "delete idle throttle records").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.ThrottleRepository = (*ThrottleRepository)(nil)
