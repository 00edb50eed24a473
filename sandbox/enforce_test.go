// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Shared enforcement checks run against each real backend. Every
// backend that claims filesystem confinement gets the same battery:
// a command inside the allowed set runs, a read outside it fails, and
// the deadline kill reaches the whole confined process tree.

const deniedFileContents = "gatehouse-denied-file-contents"

// requireBackend skips the test when the backend cannot run here, so
// the battery is exercised on hosts that have the mechanism and stays
// quiet elsewhere.
func requireBackend(t *testing.T, backend Backend) {
	t.Helper()
	if err := backend.Available(); err != nil {
		t.Skipf("%s backend unavailable: %v", backend.Name(), err)
	}
}

// enforcementProfile allows just enough of the system tree to run a
// shell and cat. Anything outside the list, the temp dir included, is
// fair game for denial checks. Paths missing on this host are
// tolerated by every backend.
func enforcementProfile() Profile {
	return Profile{
		ReadPaths: []string{"/usr", "/bin", "/lib", "/lib64", "/etc", "/dev", "/System", "/Library"},
		WorkDir:   "/usr",
		Env:       map[string]string{"PATH": "/usr/bin:/bin"},
	}
}

func verifyConfinedCommandRuns(t *testing.T, backend Backend) {
	t.Helper()
	output, err := backend.Execute(context.Background(), Request{
		Command: []string{"sh", "-c", "echo confined"},
		Profile: enforcementProfile(),
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if output.ExitCode != 0 {
		t.Fatalf("exit code = %d, stderr %q", output.ExitCode, output.Stderr)
	}
	if got := strings.TrimSpace(string(output.Stdout)); got != "confined" {
		t.Errorf("stdout = %q, want confined", got)
	}
}

func verifyDeniedPathRead(t *testing.T, backend Backend) {
	t.Helper()
	secret := filepath.Join(t.TempDir(), "credentials")
	if err := os.WriteFile(secret, []byte(deniedFileContents), 0o644); err != nil {
		t.Fatalf("writing secret: %v", err)
	}

	output, err := backend.Execute(context.Background(), Request{
		Command: []string{"cat", secret},
		Profile: enforcementProfile(),
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if output.ExitCode == 0 {
		t.Errorf("reading %s outside the profile succeeded", secret)
	}
	if strings.Contains(string(output.Stdout), deniedFileContents) {
		t.Errorf("denied file contents reached stdout: %q", output.Stdout)
	}
}

func verifyDeadlineKillsConfinedTree(t *testing.T, backend Backend) {
	t.Helper()
	// The shell backgrounds a child holding the output pipes; the
	// deadline kill must take out the wrapper and the child both, or
	// Execute would block until the child exits on its own.
	started := time.Now()
	output, err := backend.Execute(context.Background(), Request{
		Command: []string{"sh", "-c", "sleep 30 & sleep 30"},
		Profile: enforcementProfile(),
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !output.TimedOut {
		t.Error("deadline exceeded but TimedOut not set")
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("run took %s, the confined process tree survived the deadline", elapsed)
	}
}
