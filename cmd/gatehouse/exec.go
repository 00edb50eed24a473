// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/gatehouse-project/gatehouse/boundary"
	"github.com/gatehouse-project/gatehouse/sandbox"
)

func execCommand() *command {
	var configPath, session, tool, profileName string
	return &command{
		name:    "exec",
		summary: "Run a command inside the sandbox.",
		usage:   "gatehouse exec [flags] -- <command> [args...]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&session, "session", "operator-cli", "audit session id")
			flagSet.StringVar(&tool, "tool", "shell", "tool name for profile and filter selection")
			flagSet.StringVar(&profileName, "profile", "", "named profile from the profiles file")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("usage: gatehouse exec -- <command> [args...]")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			backend, err := sandbox.Select(cfg.Sandbox.Backend, slog.Default())
			if err != nil {
				return err
			}

			baseProfile := sandbox.DefaultProfile()
			if cfg.Sandbox.ProfilesFile != "" {
				profiles, err := sandbox.LoadProfiles(cfg.Sandbox.ProfilesFile)
				if err != nil {
					return err
				}
				name := profileName
				if name == "" {
					name = cfg.Sandbox.DefaultProfile
				}
				profile, ok := profiles[name]
				if !ok {
					return fmt.Errorf("profile %q not found in %s", name, cfg.Sandbox.ProfilesFile)
				}
				baseProfile = profile
			} else if profileName != "" {
				return fmt.Errorf("--profile requires sandbox.profiles_file in the configuration")
			}

			engine, scanner, err := newEngine(cfg)
			if err != nil {
				return err
			}
			sink, err := newSink(cfg)
			if err != nil {
				return err
			}
			defer sink.Close()

			coordinator, err := boundary.New(boundary.Config{
				Engine:      engine,
				Scanner:     scanner,
				Backend:     backend,
				BaseProfile: baseProfile,
				Filter: &boundary.CommandFilter{
					Allowed: cfg.Sandbox.Allowed,
					Blocked: cfg.Sandbox.Blocked,
				},
				Audit: sink,
			})
			if err != nil {
				return err
			}

			result, err := coordinator.Execute(context.Background(), session, boundary.ExecuteRequest{
				Tool:        tool,
				Command:     args,
				Timeout:     cfg.Sandbox.Timeout.Std(),
				GracePeriod: cfg.Sandbox.GracePeriod.Std(),
			})
			if err != nil {
				return err
			}

			os.Stdout.Write(result.Output.Stdout)
			os.Stderr.Write(result.Output.Stderr)
			if result.Redacted {
				fmt.Fprintln(os.Stderr, "gatehouse: credential material was redacted from the output")
			}
			if result.Output.TimedOut {
				return fmt.Errorf("command timed out after %s", cfg.Sandbox.Timeout)
			}
			if result.Output.ExitCode != 0 {
				return fmt.Errorf("command exited with status %d", result.Output.ExitCode)
			}
			return nil
		},
	}
}
