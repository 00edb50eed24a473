// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile describes the confinement for one command run. Profiles are
// values: every execution builds its own copy, so a run can never
// mutate the confinement of another.
type Profile struct {
	// ReadPaths are directories the command may read (and execute
	// binaries from).
	ReadPaths []string `yaml:"read_paths"`

	// WritePaths are directories the command may create and modify
	// files in. Write does not imply execute.
	WritePaths []string `yaml:"write_paths"`

	// AllowNetwork permits outbound network access. Default deny.
	AllowNetwork bool `yaml:"allow_network"`

	// WorkDir is the command's working directory. Must fall under a
	// read or write path.
	WorkDir string `yaml:"work_dir"`

	// Env is the complete environment for the command. The parent
	// environment is never inherited.
	Env map[string]string `yaml:"env"`

	// MaxOutputBytes caps captured stdout and stderr, each. Zero means
	// the 4 MiB default.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`
}

// defaultMaxOutput caps captured output per stream.
const defaultMaxOutput int64 = 4 << 20

// Clone returns a deep copy. Merge and per-call overrides work on
// clones so the configured base profile stays immutable.
func (p Profile) Clone() Profile {
	clone := p
	clone.ReadPaths = append([]string(nil), p.ReadPaths...)
	clone.WritePaths = append([]string(nil), p.WritePaths...)
	clone.Env = make(map[string]string, len(p.Env))
	for key, value := range p.Env {
		clone.Env[key] = value
	}
	return clone
}

// Merge overlays an override onto a clone of p: paths accumulate,
// scalar fields replace when set.
func (p Profile) Merge(override Profile) Profile {
	merged := p.Clone()
	merged.ReadPaths = append(merged.ReadPaths, override.ReadPaths...)
	merged.WritePaths = append(merged.WritePaths, override.WritePaths...)
	if override.AllowNetwork {
		merged.AllowNetwork = true
	}
	if override.WorkDir != "" {
		merged.WorkDir = override.WorkDir
	}
	for key, value := range override.Env {
		merged.Env[key] = value
	}
	if override.MaxOutputBytes > 0 {
		merged.MaxOutputBytes = override.MaxOutputBytes
	}
	return merged
}

// Validate checks the profile for absolute, clean paths and a working
// directory inside the allowed set.
func (p Profile) Validate() error {
	for _, path := range append(append([]string{}, p.ReadPaths...), p.WritePaths...) {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("profile path %q is not absolute", path)
		}
		if path != filepath.Clean(path) {
			return fmt.Errorf("profile path %q is not clean", path)
		}
	}
	if p.WorkDir != "" {
		if !filepath.IsAbs(p.WorkDir) {
			return fmt.Errorf("work_dir %q is not absolute", p.WorkDir)
		}
		if !p.pathAllowed(p.WorkDir) {
			return fmt.Errorf("work_dir %q is outside the profile's allowed paths", p.WorkDir)
		}
	}
	return nil
}

// pathAllowed reports whether path falls under any read or write path.
func (p Profile) pathAllowed(path string) bool {
	path = filepath.Clean(path)
	for _, root := range append(append([]string{}, p.ReadPaths...), p.WritePaths...) {
		if path == root || pathHasPrefix(path, root) {
			return true
		}
	}
	return false
}

// writeAllowed reports whether path falls under any write path.
func (p Profile) writeAllowed(path string) bool {
	path = filepath.Clean(path)
	for _, root := range p.WritePaths {
		if path == root || pathHasPrefix(path, root) {
			return true
		}
	}
	return false
}

func pathHasPrefix(path, root string) bool {
	if root == "/" {
		return true
	}
	return len(path) > len(root) && path[:len(root)] == root && path[len(root)] == '/'
}

func (p Profile) maxOutput() int64 {
	if p.MaxOutputBytes > 0 {
		return p.MaxOutputBytes
	}
	return defaultMaxOutput
}

// profilesFile is the on-disk shape: named profiles under one key.
type profilesFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML profile set. Every profile is validated;
// one bad profile fails the whole load so a typo cannot silently run a
// tool under the wrong confinement.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("profile file %s defines no profiles", path)
	}
	for name, profile := range file.Profiles {
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
	}
	return file.Profiles, nil
}

// DefaultProfile is a restrictive starting point: read-only system
// paths, a private tmp, no network.
func DefaultProfile() Profile {
	return Profile{
		ReadPaths:  []string{"/usr", "/lib", "/lib64", "/bin", "/etc"},
		WritePaths: []string{"/tmp"},
		WorkDir:    "/tmp",
		Env: map[string]string{
			"PATH": "/usr/bin:/bin",
			"HOME": "/tmp",
		},
	}
}
