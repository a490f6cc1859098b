// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
)

func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func findRecord(records []map[string]any, msg string) map[string]any {
	for _, r := range records {
		if r["msg"] == msg {
			return r
		}
	}
	return nil
}

func TestRegistryLogging_NeverLogsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarnessWithLogger(t, logger)
	ctx := context.Background()

	account, code := h.registerPending(t, "ada", "correct horse battery")
	require.NoError(t, h.registry.Activate(ctx, account.ID, code))
	_, token, err := h.registry.Login(ctx, auth.LoginRequest{Login: "ada", Password: "correct horse battery"})
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "correct horse battery")
	assert.NotContains(t, out, code)
	assert.NotContains(t, out, token)

	records := logRecords(t, &buf)
	registered := findRecord(records, "account registered")
	require.NotNil(t, registered)
	assert.Equal(t, account.ID.String(), registered["account_id"])
	assert.Equal(t, true, registered["activation_required"])

	require.NotNil(t, findRecord(records, "account activated"))
	established := findRecord(records, "session established")
	require.NotNil(t, established)
	assert.Equal(t, false, established["remember_me"])
}

func TestRegistryLogging_NotificationFailureWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := newHarnessWithLogger(t, logger)
	h.notifier.failWith(errors.New("relay refused"))

	_, err := h.registry.Register(context.Background(), auth.RegisterRequest{
		Login:        "ada",
		Password:     "pw",
		LinkTemplate: activationLink,
	})
	require.Error(t, err)

	rec := findRecord(logRecords(t, &buf), "activation notification failed")
	require.NotNil(t, rec)
	assert.Equal(t, "WARN", rec["level"])
	assert.Contains(t, rec["error"], "relay refused")
}

func TestRegistryLogging_TransientFailureLogsCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := newHarness(t)

	accounts := &mockAccounts{}
	accounts.On("GetByLogin", mock.Anything, "ada").Return(nil, errors.New("connection refused"))

	registry, err := auth.NewRegistry(auth.RegistryDeps{
		Accounts: accounts,
		Sessions: h.store.Sessions(),
		Tokens:   h.tokens,
		Throttle: h.throttle,
		Hasher:   h.hasher,
		Notifier: h.notifier,
	}, auth.DefaultConfig(), auth.WithLogger(logger))
	require.NoError(t, err)

	_, err = registry.Register(context.Background(), auth.RegisterRequest{Login: "ada", Password: "pw"})
	require.Error(t, err)

	rec := findRecord(logRecords(t, &buf), "register: check login failed")
	require.NotNil(t, rec)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, auth.CodeTransient, rec["code"])
	assert.Contains(t, rec["error"], "connection refused")
}

func TestRegistryLogging_BusinessOutcomesAreQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := newHarnessWithLogger(t, logger)
	h.registerActive(t, "ada", "secret")
	buf.Reset()

	_, err := h.registry.Authenticate(context.Background(), "ada", "wrong")
	require.Error(t, err)
	_, err = h.registry.Authenticate(context.Background(), "nobody", "wrong")
	require.Error(t, err)

	for _, rec := range logRecords(t, &buf) {
		assert.NotEqual(t, "ERROR", rec["level"], "unexpected error log: %v", rec["msg"])
	}
}
