// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/holomush/gatekeeper/internal/auth"
)

var quiet = slog.New(slog.DiscardHandler)

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", "test", ready, quiet)
	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	if server.Addr() == "" {
		t.Fatal("server address is empty")
	}
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	if err != nil {
		t.Fatalf("failed to GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, nil)

	status, body := get(t, server, "/metrics")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	for _, want := range []string{
		"# HELP",
		"go_goroutines",
		"process_",
		`gatekeeper_build_info{version="test"} 1`,
		"gatekeeper_throttle_cooldowns_total",
		"gatekeeper_authentication_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected /metrics to contain %q", want)
		}
	}
}

func TestServer_AuthCountersExported(t *testing.T) {
	server := startServer(t, nil)
	auth.TokensIssued.WithLabelValues("observability-test").Inc()

	_, body := get(t, server, "/metrics")
	if !strings.Contains(body, `gatekeeper_tokens_issued_total{purpose="observability-test"} 1`) {
		t.Error("expected tokens issued counter for test purpose")
	}
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, func(context.Context) error { return errors.New("db down") })

	status, body := get(t, server, "/healthz/liveness")
	if status != http.StatusOK || body != "ok\n" {
		t.Errorf("liveness = %d %q, want 200 ok", status, body)
	}
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"nil checker", nil, http.StatusOK, "ok\n"},
		{"ready", func(context.Context) error { return nil }, http.StatusOK, "ok\n"},
		{"not ready", func(context.Context) error { return errors.New("db down") }, http.StatusServiceUnavailable, "not ready\n"},
		{"checker gets a deadline", func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline")
			}
			return nil
		}, http.StatusOK, "ok\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ready)
			status, body := get(t, server, "/healthz/readiness")
			if status != tt.wantStatus || body != tt.wantBody {
				t.Errorf("readiness = %d %q, want %d %q", status, body, tt.wantStatus, tt.wantBody)
			}
		})
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)
	if _, err := server.Start(); err == nil {
		t.Error("expected second Start to fail")
	}
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", "test", nil, quiet)
	ctx := context.Background()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	if err := server.Stop(ctx); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := server.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	fresh := NewServer("127.0.0.1:0", "test", nil, quiet)
	errCh, err := fresh.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() { _ = fresh.Stop(context.Background()) }()

	_ = fresh.listener.Close()

	select {
	case serveErr := <-errCh:
		if serveErr == nil {
			t.Error("expected an error after the listener closed")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for serve error")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", "test", nil, quiet)
	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error on normal shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error channel to close")
	}
}
