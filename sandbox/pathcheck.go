// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// pathcheckBackend is the last-resort fallback: it validates the
// command and its path-shaped arguments against the profile before
// running the command without kernel confinement. Unlike the other
// backends this is advisory — a command that computes paths at runtime
// or follows a symlink out of the allowed tree is not stopped. It
// exists so hosts with no Landlock, no bwrap, and no Seatbelt still
// get argument validation and the process-group deadline kill.
type pathcheckBackend struct {
	logger *slog.Logger
}

func newPathcheckBackend(logger *slog.Logger) *pathcheckBackend {
	return &pathcheckBackend{logger: logger.With("backend", "pathcheck")}
}

func (p *pathcheckBackend) Name() string { return "pathcheck" }

// Available always succeeds: pathcheck is the floor every host has.
func (p *pathcheckBackend) Available() error { return nil }

func (p *pathcheckBackend) Execute(ctx context.Context, request Request) (Output, error) {
	if len(request.Command) == 0 {
		return Output{}, fmt.Errorf("empty command")
	}
	if err := request.Profile.Validate(); err != nil {
		return Output{}, fmt.Errorf("invalid profile: %w", err)
	}

	binary, err := resolveCommandPath(request.Command[0], request.Profile)
	if err != nil {
		return Output{}, err
	}
	if !request.Profile.pathAllowed(binary) {
		return Output{}, fmt.Errorf("command binary %s is outside the profile's allowed paths", binary)
	}

	for _, argument := range request.Command[1:] {
		if err := checkArgumentPath(argument, request.Profile); err != nil {
			return Output{}, err
		}
	}

	p.logger.Warn("running without kernel confinement, path validation only",
		"command", request.Command[0])
	argv := append([]string{binary}, request.Command[1:]...)
	return runCommand(ctx, argv, request, p.logger)
}

// checkArgumentPath rejects absolute-path arguments that resolve
// outside the allowed set. Relative arguments are resolved against the
// profile work dir. Symlinks are resolved where the target exists;
// a symlink created after this check is not caught.
func checkArgumentPath(argument string, profile Profile) error {
	if !strings.HasPrefix(argument, "/") && !strings.HasPrefix(argument, "./") && !strings.HasPrefix(argument, "../") {
		return nil
	}
	path := argument
	if !filepath.IsAbs(path) {
		path = filepath.Join(profile.WorkDir, path)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if !profile.pathAllowed(path) {
		return fmt.Errorf("argument path %s is outside the profile's allowed paths", argument)
	}
	return nil
}

// resolveCommandPath resolves command names against the profile
// environment's PATH, restricted to the allowed read paths.
func resolveCommandPath(name string, profile Profile) (string, error) {
	if strings.Contains(name, "/") {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(profile.WorkDir, path)
		}
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
		return filepath.Clean(path), nil
	}
	for _, dir := range strings.Split(profile.Env["PATH"], ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
			candidate = resolved
		}
		return candidate, nil
	}
	return "", fmt.Errorf("command %q not found in profile PATH", name)
}
