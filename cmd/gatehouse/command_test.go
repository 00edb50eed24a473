// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommandDispatchesToSubcommand(t *testing.T) {
	var called string
	root := &command{
		name: "gatehouse",
		subcommands: []*command{
			{name: "scan", run: func(args []string) error { called = "scan"; return nil }},
			{name: "exec", run: func(args []string) error { called = "exec"; return nil }},
		},
	}
	if err := root.execute([]string{"exec"}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if called != "exec" {
		t.Errorf("dispatched to %q", called)
	}
}

func TestCommandNestedDispatchWithFlags(t *testing.T) {
	var gotName string
	var overwrite bool
	root := &command{
		name: "gatehouse",
		subcommands: []*command{
			{
				name: "vault",
				subcommands: []*command{
					{
						name: "store",
						flags: func() *pflag.FlagSet {
							flagSet := pflag.NewFlagSet("store", pflag.ContinueOnError)
							flagSet.BoolVar(&overwrite, "overwrite", false, "")
							return flagSet
						},
						run: func(args []string) error {
							if len(args) != 1 {
								t.Errorf("args = %v", args)
								return nil
							}
							gotName = args[0]
							return nil
						},
					},
				},
			},
		},
	}
	if err := root.execute([]string{"vault", "store", "--overwrite", "deploy-key"}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if gotName != "deploy-key" || !overwrite {
		t.Errorf("parsed name=%q overwrite=%v", gotName, overwrite)
	}
}

func TestCommandUnknownSubcommand(t *testing.T) {
	root := &command{
		name:        "gatehouse",
		subcommands: []*command{{name: "scan", run: func([]string) error { return nil }}},
	}
	err := root.execute([]string{"scam"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error = %v", err)
	}
}

func TestCommandRequiresSubcommand(t *testing.T) {
	root := &command{
		name:        "gatehouse",
		subcommands: []*command{{name: "scan", run: func([]string) error { return nil }}},
	}
	if err := root.execute(nil); err == nil {
		t.Error("execute succeeded with no subcommand")
	}
}
