// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/gatehouse-project/gatehouse/audit"
	"github.com/gatehouse-project/gatehouse/boundary"
	"github.com/gatehouse-project/gatehouse/lib/config"
	"github.com/gatehouse-project/gatehouse/scan"
)

// newSink builds the configured audit sink: SQLite when a database
// path is set, otherwise structured logs.
func newSink(cfg *config.Config) (audit.Sink, error) {
	if cfg.Audit.Path == "" {
		return audit.NewLogSink(slog.Default()), nil
	}
	return audit.OpenStore(audit.StoreConfig{Path: cfg.Audit.Path, Logger: slog.Default()})
}

// newEngine builds the policy engine from configuration.
func newEngine(cfg *config.Config) (*scan.Engine, *scan.Scanner, error) {
	table := scan.DefaultTable()
	if cfg.Scan.TableFile != "" {
		loaded, err := scan.LoadTable(cfg.Scan.TableFile)
		if err != nil {
			return nil, nil, err
		}
		table = loaded
	}
	engine, err := scan.NewEngine(scan.EngineConfig{
		Mode:      scan.ParseMode(cfg.Scan.Mode),
		Threshold: cfg.Scan.Threshold,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, scan.NewScanner(table), nil
}

func scanCommand() *command {
	var configPath, session string
	return &command{
		name:    "scan",
		summary: "Scan text for injection and exfiltration patterns.",
		usage:   "gatehouse scan [flags] <text | ->",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("scan", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&session, "session", "operator-cli", "audit session id")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse scan <text | ->")
			}
			text := args[0]
			if text == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				text = string(data)
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
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
				Engine:  engine,
				Scanner: scanner,
				Audit:   sink,
			})
			if err != nil {
				return err
			}

			decision := coordinator.ScanText(context.Background(), session, "operator", text)
			fmt.Printf("action: %s\nscore: %.2f\n", decision.Action, decision.Score)
			if len(decision.Categories) > 0 {
				names := make([]string, len(decision.Categories))
				for i, category := range decision.Categories {
					names[i] = string(category)
				}
				fmt.Printf("categories: %s\n", strings.Join(names, ", "))
			}
			if decision.Rationale != "" {
				fmt.Printf("rationale: %s\n", decision.Rationale)
			}
			if decision.Action == scan.ActionSanitize {
				fmt.Printf("rewritten: %s\n", decision.Rewritten)
			}
			if !decision.Allowed() {
				return fmt.Errorf("input blocked")
			}
			return nil
		},
	}
}
