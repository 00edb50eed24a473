// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(StoreConfig{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := New("session-a", "scan_text")
	first.Category = "command_injection"
	first.Score = 0.7
	first.Action = ActionBlock
	first.Requester = "tool:shell"
	first.Detail = map[string]string{"rule": "subshell"}

	second := New("session-a", "execute")
	second.Action = ActionAllow

	other := New("session-b", "get_secret")
	other.Action = ActionDeny

	for _, record := range []Record{first, second, other} {
		if err := store.Emit(ctx, record); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}

	records, err := store.BySession(ctx, "session-a")
	if err != nil {
		t.Fatalf("BySession failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != first.ID || records[1].ID != second.ID {
		t.Error("records out of decision order")
	}
	got := records[0]
	if got.Category != "command_injection" || got.Score != 0.7 ||
		got.Action != ActionBlock || got.Requester != "tool:shell" {
		t.Errorf("decision fields mangled: %+v", got)
	}
	if got.Detail["rule"] != "subshell" {
		t.Errorf("detail mangled: %v", got.Detail)
	}
	if !got.Timestamp.Equal(first.Timestamp.Truncate(time.Microsecond)) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, first.Timestamp)
	}
}

func TestBySessionUnknownSession(t *testing.T) {
	store := newTestStore(t)
	records, err := store.BySession(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("BySession failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records for an unknown session", len(records))
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	store, err := OpenStore(StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	record := New("session-a", "scan_text")
	record.Action = ActionWarn
	if err := store.Emit(ctx, record); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenStore(StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	records, err := reopened.BySession(ctx, "session-a")
	if err != nil {
		t.Fatalf("BySession failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != record.ID {
		t.Errorf("persisted records = %+v", records)
	}
}

func TestOpenStoreRequiresPath(t *testing.T) {
	if _, err := OpenStore(StoreConfig{}); err == nil {
		t.Error("OpenStore accepted an empty path")
	}
}

func TestNewRecordIdentity(t *testing.T) {
	record := New("session-a", "execute")
	if record.ID == "" {
		t.Error("record has no id")
	}
	if record.Timestamp.IsZero() {
		t.Error("record has no timestamp")
	}
	if other := New("session-a", "execute"); other.ID == record.ID {
		t.Error("record ids collide")
	}
}
