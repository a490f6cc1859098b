// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testNotification() auth.Notification {
	id := ulid.Make()
	return auth.Notification{
		Purpose:   auth.PurposeActivation,
		AccountID: id,
		Recipient: "ada@example.com",
		Link:      "https://example.com/activate/" + id.String() + "/abc123",
	}
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, Base: time.Millisecond, Cap: 2 * time.Millisecond}
}

func TestLogNotifier_Send(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	msg := testNotification()

	require.NoError(t, n.Send(context.Background(), msg))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "notification", entry["msg"])
	assert.Equal(t, "activation", entry["purpose"])
	assert.Equal(t, "Activate your account", entry["subject"])
	assert.Equal(t, msg.Recipient, entry["recipient"])
	assert.Equal(t, msg.Link, entry["link"])
	assert.Equal(t, msg.AccountID.String(), entry["account_id"])
}

func TestLogNotifier_RejectsMissingRecipient(t *testing.T) {
	n := NewLogNotifier(slog.New(slog.DiscardHandler))
	msg := testNotification()
	msg.Recipient = ""

	err := n.Send(context.Background(), msg)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "NOTIFY_NO_RECIPIENT")
}

func TestLogNotifier_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLogNotifier(nil).Send(ctx, testNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRetryNotifier_Validation(t *testing.T) {
	_, err := NewRetryNotifier(nil, RetryConfig{}, nil)
	errutil.AssertErrorCode(t, err, "NOTIFY_INVALID_CONFIG")

	inner := auth.NotifierFunc(func(context.Context, auth.Notification) error { return nil })
	_, err = NewRetryNotifier(inner, RetryConfig{Base: time.Second, Cap: time.Millisecond}, nil)
	errutil.AssertErrorCode(t, err, "NOTIFY_INVALID_CONFIG")

	r, err := NewRetryNotifier(inner, RetryConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRetryConfig(), r.cfg)
}

func TestRetryNotifier_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	inner := auth.NotifierFunc(func(context.Context, auth.Notification) error {
		if calls.Add(1) < 3 {
			return errors.New("relay unavailable")
		}
		return nil
	})
	r, err := NewRetryNotifier(inner, fastRetry(5), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	require.NoError(t, r.Send(context.Background(), testNotification()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	relayErr := errors.New("relay unavailable")
	var calls atomic.Int32
	inner := auth.NotifierFunc(func(context.Context, auth.Notification) error {
		calls.Add(1)
		return relayErr
	})
	r, err := NewRetryNotifier(inner, fastRetry(3), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	err = r.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, relayErr)
	errutil.AssertErrorCode(t, err, "NOTIFY_FAILED")
	errutil.AssertErrorContext(t, err, "attempts", 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryNotifier_StopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	inner := auth.NotifierFunc(func(context.Context, auth.Notification) error {
		calls.Add(1)
		return errors.Join(ErrPermanent, errors.New("mailbox does not exist"))
	})
	r, err := NewRetryNotifier(inner, fastRetry(5), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	err = r.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryNotifier_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := auth.NotifierFunc(func(ctx context.Context, _ auth.Notification) error {
		cancel()
		return ctx.Err()
	})
	r, err := NewRetryNotifier(inner, fastRetry(5), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	err = r.Send(ctx, testNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
