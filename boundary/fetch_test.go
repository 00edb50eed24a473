// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gatehouse-project/gatehouse/audit"
	"github.com/gatehouse-project/gatehouse/scan"
)

// privateGuard permits loopback so tests can hit httptest servers.
func privateGuard(t *testing.T) *scan.Guard {
	t.Helper()
	guard, err := scan.NewGuard(scan.GuardConfig{AllowPrivate: true})
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}
	return guard
}

func TestFetchBlocksLoopbackDestination(t *testing.T) {
	coordinator, sink := newTestCoordinator(t, nil) // default guard blocks loopback

	_, err := coordinator.Fetch(context.Background(), "session-a", FetchRequest{
		URL:       "http://127.0.0.1:9/latest/meta-data/",
		Requester: "tool:fetch",
	})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want BlockedError", err)
	}
	if record := sink.last(t); record.Action != audit.ActionBlock {
		t.Errorf("audit action = %s", record.Action)
	}
}

func TestFetchBlocksCredentialExfiltration(t *testing.T) {
	coordinator, sink := newTestCoordinator(t, func(config *Config) {
		config.Guard = privateGuard(t)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request with credential material reached the server")
	}))
	defer server.Close()

	_, err := coordinator.Fetch(context.Background(), "session-a", FetchRequest{
		URL: server.URL,
		Headers: map[string]string{
			"X-Exfil": "sk-ant-REDACTED",
		},
		Requester: "tool:fetch",
	})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want BlockedError", err)
	}
	if !strings.Contains(blocked.Reason, "header") {
		t.Errorf("reason = %q, want the offending header named", blocked.Reason)
	}
	record := sink.last(t)
	if record.Category != "credential_exfiltration" {
		t.Errorf("audit category = %s", record.Category)
	}
}

func TestFetchRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept header = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	coordinator, sink := newTestCoordinator(t, func(config *Config) {
		config.Guard = privateGuard(t)
	})

	result, err := coordinator.Fetch(context.Background(), "session-a", FetchRequest{
		URL:       server.URL,
		Headers:   map[string]string{"Accept": "application/json"},
		Requester: "tool:fetch",
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("status = %d", result.StatusCode)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Errorf("body = %q", result.Body)
	}
	if result.Truncated {
		t.Error("small body reported truncated")
	}
	if record := sink.last(t); record.Action != audit.ActionAllow || record.Operation != "fetch" {
		t.Errorf("audit record = %s/%s", record.Operation, record.Action)
	}
}

func TestFetchReusesConnections(t *testing.T) {
	// One guarded client lives for the coordinator's lifetime; a fresh
	// transport per fetch would open a new connection every time.
	var mu sync.Mutex
	remotes := make(map[string]bool)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		remotes[r.RemoteAddr] = true
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	coordinator, _ := newTestCoordinator(t, func(config *Config) {
		config.Guard = privateGuard(t)
	})

	for i := 0; i < 3; i++ {
		if _, err := coordinator.Fetch(context.Background(), "session-a", FetchRequest{URL: server.URL}); err != nil {
			t.Fatalf("Fetch %d failed: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(remotes) != 1 {
		t.Errorf("requests arrived over %d connections, want 1", len(remotes))
	}
}

func TestFetchTruncatesOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	coordinator, _ := newTestCoordinator(t, func(config *Config) {
		config.Guard = privateGuard(t)
	})

	result, err := coordinator.Fetch(context.Background(), "session-a", FetchRequest{
		URL:          server.URL,
		MaxBodyBytes: 10,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Truncated {
		t.Error("oversized body not reported truncated")
	}
	if len(result.Body) != 10 {
		t.Errorf("body length = %d, want 10", len(result.Body))
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, nil)
	_, err := coordinator.Fetch(context.Background(), "session-a", FetchRequest{
		URL: "ftp://example.com/file",
	})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Errorf("error = %v, want BlockedError", err)
	}
}
