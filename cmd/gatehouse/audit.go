// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/gatehouse-project/gatehouse/audit"
)

func auditCommand() *command {
	var configPath string
	return &command{
		name:    "audit",
		summary: "Show a session's decisions from the audit store.",
		usage:   "gatehouse audit <session>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse audit <session>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Audit.Path == "" {
				return fmt.Errorf("no audit database configured (audit.path)")
			}
			store, err := audit.OpenStore(audit.StoreConfig{Path: cfg.Audit.Path})
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.BySession(context.Background(), args[0])
			if err != nil {
				return err
			}
			tab := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tab, "TIME\tOPERATION\tACTION\tSCORE\tCATEGORY\tREQUESTER")
			for _, record := range records {
				fmt.Fprintf(tab, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
					record.Timestamp.Format(time.RFC3339),
					record.Operation, record.Action, record.Score,
					record.Category, record.Requester)
			}
			return tab.Flush()
		},
	}
}
