// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { auth.RegisterMetrics(reg) })
	assert.Panics(t, func() { auth.RegisterMetrics(reg) }, "double registration panics")
}

func TestMetrics_RecordWorkflowOutcomes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	registered := testutil.ToFloat64(auth.Registrations.WithLabelValues("required"))
	issued := testutil.ToFloat64(auth.TokensIssued.WithLabelValues(string(auth.PurposeActivation)))
	consumed := testutil.ToFloat64(auth.TokensConsumed.WithLabelValues(string(auth.PurposeActivation)))
	sent := testutil.ToFloat64(auth.Notifications.WithLabelValues(string(auth.PurposeActivation), "sent"))
	failed := testutil.ToFloat64(auth.Notifications.WithLabelValues(string(auth.PurposePasswordReset), "failed"))
	invalid := testutil.ToFloat64(auth.Authentications.WithLabelValues(auth.ResultInvalid))

	account, code := h.registerPending(t, "ada", "secret")
	require.NoError(t, h.registry.Activate(ctx, account.ID, code))
	_, err := h.registry.Authenticate(ctx, "ada", "wrong")
	require.Error(t, err)

	h.notifier.failWith(errors.New("down"))
	require.NoError(t, h.registry.RequestPasswordReset(ctx, "ada", resetLink))

	assert.Equal(t, registered+1, testutil.ToFloat64(auth.Registrations.WithLabelValues("required")))
	assert.Equal(t, issued+1, testutil.ToFloat64(auth.TokensIssued.WithLabelValues(string(auth.PurposeActivation))))
	assert.Equal(t, consumed+1, testutil.ToFloat64(auth.TokensConsumed.WithLabelValues(string(auth.PurposeActivation))))
	assert.Equal(t, sent+1, testutil.ToFloat64(auth.Notifications.WithLabelValues(string(auth.PurposeActivation), "sent")))
	assert.Equal(t, failed+1, testutil.ToFloat64(auth.Notifications.WithLabelValues(string(auth.PurposePasswordReset), "failed")))
	assert.Equal(t, invalid+1, testutil.ToFloat64(auth.Authentications.WithLabelValues(auth.ResultInvalid)))
}
