// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const seatbeltBinary = "/usr/bin/sandbox-exec"

// seatbeltBackend confines commands with macOS Seatbelt via
// sandbox-exec: a generated SBPL profile denies by default and allows
// the profile's read and write subtrees.
type seatbeltBackend struct {
	logger *slog.Logger
}

func newSeatbeltBackend(logger *slog.Logger) *seatbeltBackend {
	return &seatbeltBackend{logger: logger.With("backend", "seatbelt")}
}

func (s *seatbeltBackend) Name() string { return "seatbelt" }

func (s *seatbeltBackend) Available() error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("seatbelt requires darwin: %w", ErrBackendUnavailable)
	}
	if _, err := os.Stat(seatbeltBinary); err != nil {
		return fmt.Errorf("sandbox-exec not found: %w", ErrBackendUnavailable)
	}
	return nil
}

func (s *seatbeltBackend) Execute(ctx context.Context, request Request) (Output, error) {
	if len(request.Command) == 0 {
		return Output{}, fmt.Errorf("empty command")
	}
	if err := request.Profile.Validate(); err != nil {
		return Output{}, fmt.Errorf("invalid profile: %w", err)
	}
	if err := s.Available(); err != nil {
		return Output{}, err
	}

	profile := buildSeatbeltProfile(request.Profile)
	file, err := os.CreateTemp("", "gatehouse-seatbelt-*.sb")
	if err != nil {
		return Output{}, fmt.Errorf("creating seatbelt profile file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(profile); err != nil {
		file.Close()
		return Output{}, fmt.Errorf("writing seatbelt profile: %w", err)
	}
	if err := file.Close(); err != nil {
		return Output{}, fmt.Errorf("closing seatbelt profile: %w", err)
	}

	argv := append([]string{seatbeltBinary, "-f", file.Name()}, request.Command...)
	return runCommand(ctx, argv, request, s.logger)
}

// buildSeatbeltProfile generates SBPL: deny default, baseline process
// operations, read on read paths, read+write on write paths, network
// only when the profile allows it.
func buildSeatbeltProfile(profile Profile) string {
	var b strings.Builder
	b.WriteString("(version 1)\n")
	b.WriteString("(deny default)\n")
	b.WriteString("(allow process-exec)\n")
	b.WriteString("(allow process-fork)\n")
	b.WriteString("(allow signal (target same-sandbox))\n")
	b.WriteString("(allow sysctl-read)\n")

	for _, path := range profile.ReadPaths {
		fmt.Fprintf(&b, "(allow file-read* (subpath %s))\n", sbplString(path))
	}
	for _, path := range profile.WritePaths {
		fmt.Fprintf(&b, "(allow file-read* file-write* (subpath %s))\n", sbplString(path))
	}

	if profile.AllowNetwork {
		b.WriteString("(allow network*)\n")
		// DNS resolution needs the resolver socket.
		b.WriteString("(allow file-read* (literal \"/private/etc/resolv.conf\"))\n")
	}
	return b.String()
}

// sbplString quotes a path as an SBPL string literal.
func sbplString(path string) string {
	return `"` + strings.ReplaceAll(path, `"`, `\"`) + `"`
}
