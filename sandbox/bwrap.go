// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
)

// bwrapBackend confines commands with bubblewrap: mount namespace
// built from the profile's path lists, network namespace unless the
// profile allows network, cleared environment.
type bwrapBackend struct {
	logger *slog.Logger
}

func newBwrapBackend(logger *slog.Logger) *bwrapBackend {
	return &bwrapBackend{logger: logger.With("backend", "bwrap")}
}

func (b *bwrapBackend) Name() string { return "bwrap" }

func (b *bwrapBackend) Available() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("bwrap requires linux: %w", ErrBackendUnavailable)
	}
	if _, err := bwrapPath(); err != nil {
		return fmt.Errorf("%s: %w", err, ErrBackendUnavailable)
	}
	return nil
}

// bwrapPath locates the bwrap executable in its standard locations.
func bwrapPath() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}

func (b *bwrapBackend) Execute(ctx context.Context, request Request) (Output, error) {
	if len(request.Command) == 0 {
		return Output{}, fmt.Errorf("empty command")
	}
	if err := request.Profile.Validate(); err != nil {
		return Output{}, fmt.Errorf("invalid profile: %w", err)
	}
	binary, err := bwrapPath()
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", err, ErrBackendUnavailable)
	}

	argv := append([]string{binary}, buildBwrapArgs(request.Profile)...)
	argv = append(argv, "--")
	argv = append(argv, request.Command...)

	// --chdir and --setenv take effect inside the namespace; the
	// wrapper itself must not also chdir on the host, where the
	// destination may not exist.
	request.Profile.WorkDir = ""
	return runCommand(ctx, argv, request, b.logger)
}

// buildBwrapArgs translates a profile into bwrap arguments. Missing
// bind sources are skipped: a profile listing /lib64 must work on
// hosts that do not have one.
func buildBwrapArgs(profile Profile) []string {
	args := []string{
		"--die-with-parent",
		"--new-session",
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--unshare-cgroup",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}
	if !profile.AllowNetwork {
		args = append(args, "--unshare-net")
	}

	for _, path := range profile.ReadPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		args = append(args, "--ro-bind", path, path)
	}
	for _, path := range profile.WritePaths {
		if path == "/tmp" {
			// Already a private tmpfs.
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		args = append(args, "--bind", path, path)
	}

	args = append(args, "--clearenv")
	keys := make([]string, 0, len(profile.Env))
	for key := range profile.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--setenv", key, profile.Env[key])
	}

	if profile.WorkDir != "" {
		args = append(args, "--chdir", profile.WorkDir)
	}
	return args
}
