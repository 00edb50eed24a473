// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Gatehouse configuration.
//
// Configuration comes from a single YAML file named by:
//   - the GATEHOUSE_CONFIG environment variable, or
//   - the --config flag passed to the command.
//
// There are no fallbacks and no discovery. Environment variables never
// override file values; the only expansion performed is ${HOME}-style
// path variables for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration.
type Config struct {
	Vault   VaultConfig   `yaml:"vault"`
	Scan    ScanConfig    `yaml:"scan"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Audit   AuditConfig   `yaml:"audit"`
}

// VaultConfig configures the credential vault and its authentication
// challenge.
type VaultConfig struct {
	// Path is the encrypted vault file.
	Path string `yaml:"path"`

	// FailureLimit is the wrong-code count within FailureWindow that
	// triggers the lockout.
	FailureLimit  int      `yaml:"failure_limit"`
	FailureWindow Duration `yaml:"failure_window"`

	// LockoutDuration is how long every code is refused after the
	// limit trips.
	LockoutDuration Duration `yaml:"lockout_duration"`

	// SessionTTL bounds auth sessions issued by a correct code.
	SessionTTL Duration `yaml:"session_ttl"`
}

// ScanConfig configures the pattern scanners and the policy engine.
type ScanConfig struct {
	// Mode is off, warn, block, or sanitize.
	Mode string `yaml:"mode"`

	// Threshold is the policy sensitivity in [0,1].
	Threshold float64 `yaml:"threshold"`

	// TableFile points at a JSONC pattern table. Empty uses the
	// built-in table.
	TableFile string `yaml:"table_file"`
}

// SandboxConfig configures execution.
type SandboxConfig struct {
	// Backend pins a backend (landlock, bwrap, seatbelt, pathcheck).
	// Empty selects the strongest available at startup. A pinned
	// backend that is unavailable is a startup error, not a downgrade.
	Backend string `yaml:"backend"`

	// ProfilesFile is a YAML file of named sandbox profiles. Empty
	// uses the built-in default profile only.
	ProfilesFile string `yaml:"profiles_file"`

	// DefaultProfile names the profile used when a tool has no
	// overlay.
	DefaultProfile string `yaml:"default_profile"`

	// Timeout and GracePeriod bound each execution.
	Timeout     Duration `yaml:"timeout"`
	GracePeriod Duration `yaml:"grace_period"`

	// Allowed and Blocked are glob patterns applied to every command
	// line before execution. Blocked wins.
	Allowed []string `yaml:"allowed"`
	Blocked []string `yaml:"blocked"`
}

// FetchConfig configures outbound HTTP.
type FetchConfig struct {
	// AllowPrivate permits RFC 1918 and loopback destinations. The
	// cloud metadata endpoint stays blocked regardless.
	AllowPrivate bool `yaml:"allow_private"`

	// BlockedCIDRs adds operator ranges to the built-in deny list.
	BlockedCIDRs []string `yaml:"blocked_cidrs"`

	Timeout Duration `yaml:"timeout"`
}

// AuditConfig configures where decisions are recorded.
type AuditConfig struct {
	// Path is the SQLite audit database. Empty logs decisions through
	// slog only.
	Path string `yaml:"path"`
}

// Default returns the base configuration merged under the loaded file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "gatehouse")

	return &Config{
		Vault: VaultConfig{
			Path:            filepath.Join(root, "vault.db"),
			FailureLimit:    5,
			FailureWindow:   Duration(5 * time.Minute),
			LockoutDuration: Duration(15 * time.Minute),
			SessionTTL:      Duration(10 * time.Minute),
		},
		Scan: ScanConfig{
			Mode:      "block",
			Threshold: 0.15,
		},
		Sandbox: SandboxConfig{
			DefaultProfile: "default",
			Timeout:        Duration(2 * time.Minute),
			GracePeriod:    Duration(5 * time.Second),
		},
		Fetch: FetchConfig{
			Timeout: Duration(30 * time.Second),
		},
		Audit: AuditConfig{
			Path: filepath.Join(root, "audit.db"),
		},
	}
}

// Load reads the file named by GATEHOUSE_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("GATEHOUSE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("GATEHOUSE_CONFIG environment variable not set; " +
			"set it to the path of your gatehouse.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile reads one configuration file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	c.Vault.Path = expandVars(c.Vault.Path)
	c.Scan.TableFile = expandVars(c.Scan.TableFile)
	c.Sandbox.ProfilesFile = expandVars(c.Sandbox.ProfilesFile)
	c.Audit.Path = expandVars(c.Audit.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Vault.Path == "" {
		errs = append(errs, fmt.Errorf("vault.path is required"))
	}
	if c.Vault.FailureLimit <= 0 {
		errs = append(errs, fmt.Errorf("vault.failure_limit must be positive"))
	}

	switch c.Scan.Mode {
	case "off", "warn", "block", "sanitize":
	default:
		errs = append(errs, fmt.Errorf("scan.mode must be off, warn, block, or sanitize"))
	}
	if c.Scan.Threshold < 0 || c.Scan.Threshold > 1 {
		errs = append(errs, fmt.Errorf("scan.threshold must be in [0,1]"))
	}

	switch c.Sandbox.Backend {
	case "", "landlock", "bwrap", "seatbelt", "pathcheck":
	default:
		errs = append(errs, fmt.Errorf("sandbox.backend %q is not a known backend", c.Sandbox.Backend))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the parent directories of the configured state
// files.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Vault.Path, c.Audit.Path} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	return nil
}
