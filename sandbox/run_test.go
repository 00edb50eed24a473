// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testRequest() Request {
	return Request{
		Profile: Profile{
			ReadPaths:  []string{"/usr", "/bin", "/lib", "/lib64", "/etc"},
			WritePaths: []string{"/tmp"},
			Env:        map[string]string{"PATH": "/usr/bin:/bin"},
			WorkDir:    "/tmp",
		},
	}
}

func TestRunCommandCapturesOutput(t *testing.T) {
	request := testRequest()
	output, err := runCommand(context.Background(), []string{"/bin/sh", "-c", "echo out; echo err 1>&2"}, request, slog.Default())
	if err != nil {
		t.Fatalf("runCommand failed: %v", err)
	}
	if output.ExitCode != 0 {
		t.Errorf("exit code = %d", output.ExitCode)
	}
	if got := strings.TrimSpace(string(output.Stdout)); got != "out" {
		t.Errorf("stdout = %q", got)
	}
	if got := strings.TrimSpace(string(output.Stderr)); got != "err" {
		t.Errorf("stderr = %q", got)
	}
	if output.TimedOut || output.Killed {
		t.Error("clean run flagged as timed out or killed")
	}
}

func TestRunCommandExitCode(t *testing.T) {
	output, err := runCommand(context.Background(), []string{"/bin/sh", "-c", "exit 3"}, testRequest(), slog.Default())
	if err != nil {
		t.Fatalf("runCommand failed: %v", err)
	}
	if output.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", output.ExitCode)
	}
}

func TestRunCommandStdin(t *testing.T) {
	request := testRequest()
	request.Stdin = []byte("hello stdin")
	output, err := runCommand(context.Background(), []string{"/bin/cat"}, request, slog.Default())
	if err != nil {
		t.Fatalf("runCommand failed: %v", err)
	}
	if string(output.Stdout) != "hello stdin" {
		t.Errorf("stdout = %q", output.Stdout)
	}
}

func TestRunCommandDeadlineKillsProcessTree(t *testing.T) {
	request := testRequest()
	request.Timeout = 200 * time.Millisecond

	// The child spawns its own child; both sit in the same process
	// group and the deadline kill must take out both, or Run would
	// block on the grandchild's open stdout pipe.
	started := time.Now()
	output, err := runCommand(context.Background(), []string{"/bin/sh", "-c", "sleep 30 & sleep 30"}, request, slog.Default())
	if err != nil {
		t.Fatalf("runCommand failed: %v", err)
	}
	if !output.TimedOut {
		t.Error("deadline exceeded but TimedOut not set")
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("run took %s, the process tree was not killed", elapsed)
	}
}

func TestRunCommandEnvironmentIsExplicit(t *testing.T) {
	request := testRequest()
	request.Profile.Env = map[string]string{"PATH": "/usr/bin:/bin", "GATEHOUSE_MARK": "present"}
	output, err := runCommand(context.Background(), []string{"/usr/bin/env"}, request, slog.Default())
	if err != nil {
		t.Fatalf("runCommand failed: %v", err)
	}
	if !bytes.Contains(output.Stdout, []byte("GATEHOUSE_MARK=present")) {
		t.Error("profile env var missing")
	}
	// The parent's environment must not leak through.
	t.Setenv("GATEHOUSE_LEAK_CHECK", "leaked")
	output, err = runCommand(context.Background(), []string{"/usr/bin/env"}, request, slog.Default())
	if err != nil {
		t.Fatalf("runCommand failed: %v", err)
	}
	if bytes.Contains(output.Stdout, []byte("GATEHOUSE_LEAK_CHECK")) {
		t.Error("parent environment leaked into the command")
	}
}

func TestLimitWriterTruncates(t *testing.T) {
	writer := &limitWriter{limit: 10}
	n, err := writer.Write([]byte("0123456789abcdef"))
	if err != nil || n != 16 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if got := writer.buffer.String(); got != "0123456789" {
		t.Errorf("captured = %q", got)
	}
	if !writer.truncated {
		t.Error("truncation not flagged")
	}
	// Later writes are swallowed without error.
	if n, err := writer.Write([]byte("more")); err != nil || n != 4 {
		t.Errorf("post-limit Write = (%d, %v)", n, err)
	}
}

func TestEnvironListSortedAndComplete(t *testing.T) {
	list := environList(map[string]string{"B": "2", "A": "1"})
	want := []string{"A=1", "B=2"}
	if len(list) != 2 || list[0] != want[0] || list[1] != want[1] {
		t.Errorf("environList = %v, want %v", list, want)
	}
}
