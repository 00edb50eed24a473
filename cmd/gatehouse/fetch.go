// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/gatehouse-project/gatehouse/boundary"
	"github.com/gatehouse-project/gatehouse/scan"
)

func fetchCommand() *command {
	var configPath, session, method, bodyFrom string
	var headers []string
	return &command{
		name:    "fetch",
		summary: "Perform an outbound HTTP request through the SSRF guard.",
		usage:   "gatehouse fetch [flags] <url>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&session, "session", "operator-cli", "audit session id")
			flagSet.StringVarP(&method, "method", "X", "GET", "request method")
			flagSet.StringSliceVarP(&headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
			flagSet.StringVar(&bodyFrom, "body", "", "read the request body from a file, or '-' for stdin")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse fetch <url>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			guard, err := scan.NewGuard(scan.GuardConfig{
				AllowPrivate: cfg.Fetch.AllowPrivate,
				BlockedCIDRs: cfg.Fetch.BlockedCIDRs,
			})
			if err != nil {
				return err
			}

			headerMap := make(map[string]string, len(headers))
			for _, header := range headers {
				name, value, ok := strings.Cut(header, ":")
				if !ok {
					return fmt.Errorf("header %q is not 'Name: value'", header)
				}
				headerMap[strings.TrimSpace(name)] = strings.TrimSpace(value)
			}

			var body []byte
			if bodyFrom == "-" {
				body, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			} else if bodyFrom != "" {
				body, err = os.ReadFile(bodyFrom)
				if err != nil {
					return err
				}
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
				Guard:       guard,
				Audit:       sink,
				HTTPTimeout: cfg.Fetch.Timeout.Std(),
			})
			if err != nil {
				return err
			}

			result, err := coordinator.Fetch(context.Background(), session, boundary.FetchRequest{
				Method:    method,
				URL:       args[0],
				Headers:   headerMap,
				Body:      body,
				Requester: "operator",
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "%d\n", result.StatusCode)
			os.Stdout.Write(result.Body)
			if result.Truncated {
				fmt.Fprintln(os.Stderr, "gatehouse: response body truncated")
			}
			return nil
		},
	}
}
