// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/gatehouse-project/gatehouse/lib/config"
	"github.com/gatehouse-project/gatehouse/lib/secret"
	"github.com/gatehouse-project/gatehouse/vault"
)

// totpSeedName is the reserved credential holding the TOTP seed.
const totpSeedName = "totp-seed"

func vaultCommand() *command {
	return &command{
		name:    "vault",
		summary: "Manage the encrypted credential vault.",
		subcommands: []*command{
			vaultInitCommand(),
			vaultStoreCommand(),
			vaultGetCommand(),
			vaultListCommand(),
			vaultDeleteCommand(),
			vaultPolicyCommand(),
			vaultSSHKeygenCommand(),
			vaultTOTPSetupCommand(),
			vaultExportCommand(),
			vaultRestoreCommand(),
		},
	}
}

// openVault opens and unlocks the configured vault, wiring the TOTP
// challenge when a seed credential is present. The returned
// authenticator is nil when no seed is enrolled.
func openVault(cfg *config.Config) (*vault.Vault, *vault.Authenticator, error) {
	store, err := vault.Open(vault.Config{Path: cfg.Vault.Path})
	if err != nil {
		return nil, nil, err
	}
	passphrase, err := secret.Prompt(int(os.Stdin.Fd()), "Vault passphrase")
	if err != nil {
		return nil, nil, err
	}
	defer passphrase.Close()
	if err := store.Unlock(passphrase); err != nil {
		return nil, nil, err
	}

	var auth *vault.Authenticator
	if _, err := store.Peek(totpSeedName); err == nil {
		seed, err := store.Get(context.Background(), totpSeedName, vault.GetOptions{})
		if err != nil {
			store.Lock()
			return nil, nil, fmt.Errorf("reading TOTP seed: %w", err)
		}
		auth = vault.NewAuthenticator(seed, vault.AuthConfig{
			FailureLimit:    cfg.Vault.FailureLimit,
			FailureWindow:   cfg.Vault.FailureWindow.Std(),
			LockoutDuration: cfg.Vault.LockoutDuration.Std(),
			SessionTTL:      cfg.Vault.SessionTTL.Std(),
		})
		store.AttachAuthenticator(auth)
	}
	return store, auth, nil
}

func vaultInitCommand() *command {
	var configPath string
	return &command{
		name:    "init",
		summary: "Create a new vault file.",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			return flagSet
		},
		run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			passphrase, err := secret.Prompt(int(os.Stdin.Fd()), "New vault passphrase")
			if err != nil {
				return err
			}
			defer passphrase.Close()
			confirm, err := secret.Prompt(int(os.Stdin.Fd()), "Confirm passphrase")
			if err != nil {
				return err
			}
			defer confirm.Close()
			if !passphrase.Equal(confirm.Bytes()) {
				return fmt.Errorf("passphrases do not match")
			}

			store, err := vault.Init(vault.Config{Path: cfg.Vault.Path}, passphrase)
			if err != nil {
				return err
			}
			store.Lock()
			fmt.Printf("vault created at %s\n", cfg.Vault.Path)
			return nil
		},
	}
}

func vaultStoreCommand() *command {
	var configPath, kind, policy, valueFrom string
	var skills []string
	var overwrite bool
	return &command{
		name:    "store",
		summary: "Store a credential.",
		usage:   "gatehouse vault store <name> [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("store", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&kind, "kind", string(vault.KindAPIKey), "credential kind")
			flagSet.StringVar(&policy, "policy", string(vault.PolicyAlways), "release policy")
			flagSet.StringSliceVar(&skills, "skill", nil, "skills allowed by a skill_only policy")
			flagSet.StringVar(&valueFrom, "from", "", "read the value from a file, or '-' for stdin; default prompts")
			flagSet.BoolVar(&overwrite, "overwrite", false, "replace an existing credential")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse vault store <name>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, _, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer store.Lock()

			var value *secret.Buffer
			if valueFrom != "" {
				value, err = secret.ReadFromPath(valueFrom)
			} else {
				value, err = secret.Prompt(int(os.Stdin.Fd()), "Credential value")
			}
			if err != nil {
				return err
			}
			defer value.Close()

			if err := store.Store(args[0], vault.Kind(kind), vault.Policy(policy), skills, value, overwrite); err != nil {
				return err
			}
			fmt.Printf("stored %s\n", args[0])
			return nil
		},
	}
}

func vaultGetCommand() *command {
	var configPath, skill, totpCode, reason string
	return &command{
		name:    "get",
		summary: "Release a credential value under its policy.",
		usage:   "gatehouse vault get <name> [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&skill, "skill", "", "requesting skill for skill_only credentials")
			flagSet.StringVar(&totpCode, "totp", "", "TOTP code for with_auth credentials")
			flagSet.StringVar(&reason, "reason", "", "reason shown to the approver")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse vault get <name>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, auth, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer store.Lock()

			var token string
			if totpCode != "" {
				if auth == nil {
					return fmt.Errorf("no TOTP seed enrolled; run 'gatehouse vault totp-setup' first")
				}
				session, err := auth.Authenticate(totpCode)
				if err != nil {
					return err
				}
				token = session.Token
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			value, err := store.Get(ctx, args[0], vault.GetOptions{
				SessionToken: token,
				Skill:        skill,
				Approver:     terminalApprover{},
				Reason:       reason,
			})
			if err != nil {
				return err
			}
			defer value.Close()
			fmt.Println(value.String())
			return nil
		},
	}
}

// terminalApprover asks the operator at the terminal. A nil input
// reads os.Stdin.
type terminalApprover struct {
	input io.Reader
}

// Approve reads the answer on a goroutine so the prompt is abandoned
// when the context expires: an unattended terminal must not hold a
// credential release open past the deadline.
func (a terminalApprover) Approve(ctx context.Context, name, reason string) (bool, error) {
	if reason != "" {
		fmt.Fprintf(os.Stderr, "Release credential %q (%s)? [y/N] ", name, reason)
	} else {
		fmt.Fprintf(os.Stderr, "Release credential %q? [y/N] ", name)
	}
	input := a.input
	if input == nil {
		input = os.Stdin
	}

	type reply struct {
		line string
		err  error
	}
	answers := make(chan reply, 1)
	go func() {
		line, err := bufio.NewReader(input).ReadString('\n')
		answers <- reply{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case answer := <-answers:
		if answer.err != nil {
			return false, answer.err
		}
		line := strings.ToLower(strings.TrimSpace(answer.line))
		return line == "y" || line == "yes", nil
	}
}

func vaultListCommand() *command {
	var configPath string
	return &command{
		name:    "list",
		summary: "List credential metadata.",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			return flagSet
		},
		run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := vault.Open(vault.Config{Path: cfg.Vault.Path})
			if err != nil {
				return err
			}
			// Listing is metadata-only and works on a locked vault.
			tab := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tab, "NAME\tKIND\tPOLICY\tSKILLS\tUPDATED")
			for _, meta := range store.List() {
				state := ""
				if meta.Disabled {
					state = " (disabled)"
				}
				fmt.Fprintf(tab, "%s%s\t%s\t%s\t%s\t%s\n",
					meta.Name, state, meta.Kind, meta.Policy,
					strings.Join(meta.Skills, ","),
					meta.UpdatedAt.Format(time.RFC3339))
			}
			return tab.Flush()
		},
	}
}

func vaultDeleteCommand() *command {
	var configPath string
	return &command{
		name:    "delete",
		summary: "Delete a credential.",
		usage:   "gatehouse vault delete <name>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse vault delete <name>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, _, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer store.Lock()
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func vaultPolicyCommand() *command {
	var configPath string
	var skills []string
	return &command{
		name:    "policy",
		summary: "Change a credential's release policy.",
		usage:   "gatehouse vault policy <name> <always|with_approval|with_auth|skill_only>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("policy", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringSliceVar(&skills, "skill", nil, "skills for a skill_only policy")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: gatehouse vault policy <name> <policy>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, _, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer store.Lock()
			if err := store.SetPolicy(args[0], vault.Policy(args[1]), skills); err != nil {
				return err
			}
			fmt.Printf("policy of %s is now %s\n", args[0], args[1])
			return nil
		},
	}
}

func vaultSSHKeygenCommand() *command {
	var configPath, comment, policy string
	var skills []string
	return &command{
		name:    "ssh-keygen",
		summary: "Generate an Ed25519 SSH keypair stored in the vault.",
		usage:   "gatehouse vault ssh-keygen <name> [flags]",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ssh-keygen", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&comment, "comment", "gatehouse", "key comment")
			flagSet.StringVar(&policy, "policy", string(vault.PolicyWithApproval), "release policy for the private key")
			flagSet.StringSliceVar(&skills, "skill", nil, "skills for a skill_only policy")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse vault ssh-keygen <name>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, _, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer store.Lock()
			publicKey, err := store.GenerateSSHKey(args[0], vault.Policy(policy), skills, comment)
			if err != nil {
				return err
			}
			fmt.Println(publicKey)
			return nil
		},
	}
}

func vaultTOTPSetupCommand() *command {
	var configPath, account string
	return &command{
		name:    "totp-setup",
		summary: "Enroll a TOTP seed for with_auth credentials.",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("totp-setup", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&account, "account", "operator", "account label in the enrollment URL")
			return flagSet
		},
		run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, _, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer store.Lock()

			seed, url, err := vault.GenerateSeed("gatehouse", account)
			if err != nil {
				return err
			}
			defer seed.Close()
			if err := store.Store(totpSeedName, vault.KindSecureNote, vault.PolicyAlways, nil, seed, false); err != nil {
				return err
			}
			fmt.Println(url)
			fmt.Fprintln(os.Stderr, "scan the URL into your authenticator app; codes gate with_auth credentials")
			return nil
		},
	}
}

func vaultExportCommand() *command {
	var configPath string
	var recipients []string
	return &command{
		name:    "export",
		summary: "Write an age-encrypted escrow bundle of all records.",
		usage:   "gatehouse vault export <file> --recipient <age1...>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringSliceVar(&recipients, "recipient", nil, "age recipient public key (repeatable)")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse vault export <file>")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := vault.Open(vault.Config{Path: cfg.Vault.Path})
			if err != nil {
				return err
			}
			out, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return err
			}
			if err := store.Export(out, recipients); err != nil {
				out.Close()
				os.Remove(args[0])
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			fmt.Printf("exported to %s\n", args[0])
			return nil
		},
	}
}

func vaultRestoreCommand() *command {
	var configPath, identityFrom string
	return &command{
		name:    "restore",
		summary: "Restore a vault file from an escrow bundle.",
		usage:   "gatehouse vault restore <bundle> --identity <file>",
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("restore", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&identityFrom, "identity", "", "age identity file, or '-' for stdin")
			return flagSet
		},
		run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: gatehouse vault restore <bundle>")
			}
			if identityFrom == "" {
				return fmt.Errorf("--identity is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			identity, err := secret.ReadFromPath(identityFrom)
			if err != nil {
				return err
			}
			defer identity.Close()

			bundle, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer bundle.Close()

			if err := vault.RestoreBackup(cfg.Vault.Path, bundle, identity); err != nil {
				return err
			}
			fmt.Printf("restored vault to %s\n", cfg.Vault.Path)
			return nil
		},
	}
}
