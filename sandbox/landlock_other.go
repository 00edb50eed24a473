// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
)

// PolicyEnvVar carries the encoded confinement policy into the
// re-exec'd helper process on Linux. Defined on every platform so the
// main binary's helper dispatch compiles everywhere.
const PolicyEnvVar = "GATEHOUSE_SANDBOX_POLICY"

type landlockBackend struct {
	logger *slog.Logger
}

func newLandlockBackend(logger *slog.Logger) *landlockBackend {
	return &landlockBackend{logger: logger.With("backend", "landlock")}
}

func (l *landlockBackend) Name() string { return "landlock" }

func (l *landlockBackend) Available() error {
	return fmt.Errorf("landlock requires linux: %w", ErrBackendUnavailable)
}

func (l *landlockBackend) Execute(ctx context.Context, request Request) (Output, error) {
	return Output{}, l.Available()
}

// HelperMain only exists on Linux; elsewhere the helper env var should
// never be set.
func HelperMain() error {
	return fmt.Errorf("sandbox helper is linux-only")
}
