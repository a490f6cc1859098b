// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by repositories when a write loses a race or
// violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// Sentinel errors for each outcome a workflow can report. Errors returned by
// Registry wrap exactly one of these; use errors.Is or KindOf to branch.
var (
	ErrDuplicateAccount    = errors.New("account already exists")
	ErrAccountNotFound     = errors.New("invalid login or password")
	ErrAccountNotActivated = errors.New("account is not activated")
	ErrAlreadyActivated    = errors.New("account is already activated")
	ErrThrottled           = errors.New("too many failed attempts")
	ErrTokenInvalid        = errors.New("token is invalid or expired")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrNotificationFailed  = errors.New("notification could not be sent")
	ErrTransient           = errors.New("temporary failure, try again later")
	ErrInvalidInput        = errors.New("invalid input")
	ErrSessionInvalid      = errors.New("session is invalid or expired")
)

// Kind classifies an error returned by this package.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindDuplicateAccount
	KindAccountNotFound
	KindAccountNotActivated
	KindAlreadyActivated
	KindThrottled
	KindTokenInvalid
	KindInvalidCredential
	KindNotificationFailed
	KindTransient
	KindInvalidInput
	KindSessionInvalid
)

// Error codes attached to oops errors, one per kind.
const (
	CodeDuplicateAccount    = "ACCOUNT_DUPLICATE"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeAccountNotActivated = "ACCOUNT_NOT_ACTIVATED"
	CodeAlreadyActivated    = "ACCOUNT_ALREADY_ACTIVATED"
	CodeThrottled           = "AUTH_THROTTLED"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeInvalidCredential   = "CREDENTIAL_INVALID"
	CodeNotificationFailed  = "NOTIFICATION_FAILED"
	CodeTransient           = "TRANSIENT"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeSessionInvalid      = "SESSION_INVALID"
)

var kinds = []struct {
	kind Kind
	err  error
	name string
}{
	{KindDuplicateAccount, ErrDuplicateAccount, "DuplicateAccount"},
	{KindAccountNotFound, ErrAccountNotFound, "AccountNotFound"},
	{KindAccountNotActivated, ErrAccountNotActivated, "AccountNotActivated"},
	{KindAlreadyActivated, ErrAlreadyActivated, "AlreadyActivated"},
	{KindThrottled, ErrThrottled, "Throttled"},
	{KindTokenInvalid, ErrTokenInvalid, "TokenInvalid"},
	{KindInvalidCredential, ErrInvalidCredential, "InvalidCredential"},
	{KindNotificationFailed, ErrNotificationFailed, "NotificationFailed"},
	{KindTransient, ErrTransient, "Transient"},
	{KindInvalidInput, ErrInvalidInput, "InvalidInput"},
	{KindSessionInvalid, ErrSessionInvalid, "SessionInvalid"},
}

// KindOf reports the kind of err. Context deadlines and cancellations are
// Transient. Unrecognized non-nil errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindUnknown
}

func (k Kind) String() string {
	for _, e := range kinds {
		if e.kind == k {
			return e.name
		}
	}
	return "Unknown"
}

// IsBusinessOutcome reports whether err is an expected workflow result that
// should be shown to the user rather than logged as a failure.
func IsBusinessOutcome(err error) bool {
	switch KindOf(err) {
	case KindUnknown, KindTransient, KindNotificationFailed:
		return false
	default:
		return true
	}
}

// transient wraps an unexpected storage or timeout error so it classifies as
// KindTransient while keeping the original cause in the chain.
func transient(operation string, err error) error {
	return oops.Code(CodeTransient).
		With("operation", operation).
		Wrap(errors.Join(ErrTransient, err))
}
