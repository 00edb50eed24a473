// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBackendUnavailable marks a backend that cannot run on this host.
var ErrBackendUnavailable = errors.New("sandbox backend unavailable")

// Request is one command run.
type Request struct {
	// Command is the argv. Command[0] is resolved via the profile
	// environment's PATH if not absolute.
	Command []string

	// Profile is this run's confinement. Passed by value: the run owns
	// its copy.
	Profile Profile

	// Stdin is fed to the command. Nil means empty.
	Stdin []byte

	// Timeout bounds the run. Zero means no deadline beyond the
	// caller's context.
	Timeout time.Duration

	// GracePeriod between SIGTERM and SIGKILL on deadline. Zero kills
	// immediately.
	GracePeriod time.Duration
}

// Output is the captured result of a run.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int

	// TimedOut is set when the deadline killed the run.
	TimedOut bool

	// Killed is set when the process died to a signal other than the
	// deadline kill.
	Killed bool

	Duration time.Duration
}

// Backend executes confined commands. Implementations are stateless
// beyond their probe result and safe for concurrent use.
type Backend interface {
	// Name is the stable identifier used in configuration and audit
	// records.
	Name() string

	// Available probes whether the backend can run on this host. The
	// result must not vary over the process lifetime.
	Available() error

	// Execute runs one command under the request's profile.
	Execute(ctx context.Context, request Request) (Output, error)
}

// backendOrder is the probe order, strongest first.
func backendOrder(logger *slog.Logger) []Backend {
	return []Backend{
		newLandlockBackend(logger),
		newBwrapBackend(logger),
		newSeatbeltBackend(logger),
		newPathcheckBackend(logger),
	}
}

var (
	selectOnce   sync.Once
	selectedName string
	selected     Backend
	selectErr    error
)

// Select returns the execution backend. With name empty the strongest
// available backend wins; with a name only that backend is considered,
// and its unavailability is a hard error rather than a downgrade.
//
// The probe runs once per process. Later calls with a different name
// than the first are rejected: backend choice is a startup decision.
func Select(name string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	selectOnce.Do(func() {
		selectedName = name
		selected, selectErr = probe(name, logger)
	})
	if selectErr != nil {
		return nil, selectErr
	}
	if name != selectedName {
		return nil, fmt.Errorf("sandbox backend already selected as %q, cannot reselect as %q", selected.Name(), name)
	}
	return selected, nil
}

func probe(name string, logger *slog.Logger) (Backend, error) {
	candidates := backendOrder(logger)

	if name != "" {
		for _, backend := range candidates {
			if backend.Name() != name {
				continue
			}
			if err := backend.Available(); err != nil {
				return nil, fmt.Errorf("configured sandbox backend %q: %w", name, err)
			}
			logger.Info("sandbox backend selected", "backend", name, "configured", true)
			return backend, nil
		}
		return nil, fmt.Errorf("unknown sandbox backend %q: %w", name, ErrBackendUnavailable)
	}

	for _, backend := range candidates {
		if err := backend.Available(); err != nil {
			logger.Debug("sandbox backend unavailable", "backend", backend.Name(), "error", err)
			continue
		}
		logger.Info("sandbox backend selected", "backend", backend.Name())
		return backend, nil
	}
	return nil, fmt.Errorf("no sandbox backend available: %w", ErrBackendUnavailable)
}

// resetSelection clears the cached probe (tests only).
func resetSelection() {
	selectOnce = sync.Once{}
	selected = nil
	selectedName = ""
	selectErr = nil
}
