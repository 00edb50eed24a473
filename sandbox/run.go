// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// limitWriter captures up to limit bytes and discards the rest. The
// command is not killed for being chatty; its extra output just does
// not reach the caller.
type limitWriter struct {
	buffer    bytes.Buffer
	limit     int64
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - int64(w.buffer.Len())
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		w.buffer.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buffer.Write(p)
	return len(p), nil
}

// runCommand executes an already-confined argv: the confinement
// wrapper (bwrap, sandbox-exec, the landlock helper) is part of argv.
// The command runs in its own process group so that the deadline kill
// reaches the wrapper and every child it spawned; without that, a
// killed wrapper leaves children holding the output pipes open.
func runCommand(ctx context.Context, argv []string, request Request, logger *slog.Logger) (Output, error) {
	if len(argv) == 0 {
		return Output{}, fmt.Errorf("empty command")
	}

	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = environList(request.Profile.Env)
	if request.Profile.WorkDir != "" {
		cmd.Dir = request.Profile.WorkDir
	}
	if len(request.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(request.Stdin)
	}

	stdout := &limitWriter{limit: request.Profile.maxOutput()}
	stderr := &limitWriter{limit: request.Profile.maxOutput()}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	grace := request.GracePeriod
	cmd.Cancel = func() error {
		group := -cmd.Process.Pid
		if grace <= 0 {
			return syscall.Kill(group, syscall.SIGKILL)
		}
		if err := syscall.Kill(group, syscall.SIGTERM); err != nil {
			// Process group already gone or unsignalable, escalate.
			return syscall.Kill(group, syscall.SIGKILL)
		}
		go func() {
			time.Sleep(grace)
			// ESRCH from an exited group is harmless.
			_ = syscall.Kill(group, syscall.SIGKILL)
		}()
		return nil
	}

	started := time.Now()
	err := cmd.Run()
	output := Output{
		Stdout:   stdout.buffer.Bytes(),
		Stderr:   stderr.buffer.Bytes(),
		Duration: time.Since(started),
	}
	if stdout.truncated || stderr.truncated {
		logger.Warn("command output truncated", "limit_bytes", request.Profile.maxOutput())
	}

	if err == nil {
		return output, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		output.TimedOut = true
		output.ExitCode = -1
		return output, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		output.ExitCode = exitError.ExitCode()
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			output.Killed = true
		}
		return output, nil
	}

	return output, fmt.Errorf("running command: %w", err)
}

// environList flattens the profile environment into KEY=VALUE form,
// sorted for determinism. The parent environment is never inherited.
func environList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, key := range keys {
		list = append(list, key+"="+env[key])
	}
	return list
}
