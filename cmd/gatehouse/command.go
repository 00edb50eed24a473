// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is one node of the CLI tree. Leaves set run; interior nodes
// set subcommands.
type command struct {
	name    string
	summary string
	usage   string

	// flags builds the command's flag set, called once before run.
	flags func() *pflag.FlagSet

	subcommands []*command
	run         func(args []string) error

	parent *command
}

// execute dispatches by the first positional argument, then parses
// flags and runs the leaf.
func (c *command) execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.printHelp(os.Stderr)
		return nil
	}

	if len(c.subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		for _, sub := range c.subcommands {
			if sub.name == args[0] {
				sub.parent = c
				return sub.execute(args[1:])
			}
		}
		return fmt.Errorf("unknown command %q; run '%s --help' for usage", args[0], c.fullName())
	}
	if len(c.subcommands) > 0 && c.run == nil {
		c.printHelp(os.Stderr)
		if len(args) == 0 {
			return fmt.Errorf("subcommand required")
		}
		return fmt.Errorf("subcommand required (got %q)", args[0])
	}

	if c.flags != nil {
		flagSet := c.flags()
		flagSet.SetOutput(io.Discard)
		if err := flagSet.Parse(args); err != nil {
			return fmt.Errorf("%s: %w; run '%s --help' for usage", c.fullName(), err, c.fullName())
		}
		args = flagSet.Args()
	}
	return c.run(args)
}

func (c *command) fullName() string {
	if c.parent == nil {
		return c.name
	}
	return c.parent.fullName() + " " + c.name
}

func (c *command) printHelp(w io.Writer) {
	if c.usage != "" {
		fmt.Fprintf(w, "Usage: %s\n", c.usage)
	} else if len(c.subcommands) > 0 {
		fmt.Fprintf(w, "Usage: %s <command> [flags]\n", c.fullName())
	} else {
		fmt.Fprintf(w, "Usage: %s [flags]\n", c.fullName())
	}
	if c.summary != "" {
		fmt.Fprintf(w, "\n%s\n", c.summary)
	}
	if len(c.subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tab := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		for _, sub := range c.subcommands {
			fmt.Fprintf(tab, "  %s\t%s\n", sub.name, sub.summary)
		}
		tab.Flush()
	}
	if c.flags != nil {
		fmt.Fprintf(w, "\nFlags:\n%s", c.flags().FlagUsages())
	}
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
