// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Command gatehouse is the operator CLI for the trust boundary: vault
// lifecycle, text scanning, sandboxed execution, guarded fetches, and
// audit queries.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gatehouse-project/gatehouse/lib/config"
	"github.com/gatehouse-project/gatehouse/sandbox"
)

func main() {
	// Sandbox helper re-exec: when the policy variable is present this
	// process applies the kernel policy to itself and execs the target
	// command. Nothing of the normal CLI runs.
	if os.Getenv(sandbox.PolicyEnvVar) != "" {
		if err := sandbox.HelperMain(); err != nil {
			fmt.Fprintf(os.Stderr, "gatehouse: sandbox helper: %v\n", err)
			os.Exit(125)
		}
		return
	}

	level := slog.LevelWarn
	if os.Getenv("GATEHOUSE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	root := &command{
		name:    "gatehouse",
		summary: "Agent trust boundary: credential vault, scanners, sandbox, guarded fetch.",
		subcommands: []*command{
			vaultCommand(),
			scanCommand(),
			execCommand(),
			fetchCommand(),
			auditCommand(),
		},
	}
	if err := root.execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration: the --config flag when set,
// otherwise GATEHOUSE_CONFIG, otherwise built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("GATEHOUSE_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}
