// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfileCloneIsIndependent(t *testing.T) {
	base := Profile{
		ReadPaths:  []string{"/usr"},
		WritePaths: []string{"/tmp"},
		Env:        map[string]string{"PATH": "/usr/bin"},
	}
	clone := base.Clone()
	clone.ReadPaths[0] = "/changed"
	clone.Env["PATH"] = "/changed"

	if base.ReadPaths[0] != "/usr" {
		t.Error("clone shares the read path slice")
	}
	if base.Env["PATH"] != "/usr/bin" {
		t.Error("clone shares the env map")
	}
}

func TestProfileMerge(t *testing.T) {
	base := DefaultProfile()
	merged := base.Merge(Profile{
		ReadPaths:    []string{"/opt/tool"},
		AllowNetwork: true,
		WorkDir:      "/tmp/job",
		Env:          map[string]string{"LANG": "C"},
	})

	if !merged.AllowNetwork {
		t.Error("override did not enable network")
	}
	if merged.WorkDir != "/tmp/job" {
		t.Errorf("WorkDir = %q", merged.WorkDir)
	}
	if merged.Env["LANG"] != "C" || merged.Env["PATH"] == "" {
		t.Errorf("env not merged: %v", merged.Env)
	}
	found := false
	for _, path := range merged.ReadPaths {
		if path == "/opt/tool" {
			found = true
		}
	}
	if !found {
		t.Error("override read path missing")
	}

	// The base stays untouched.
	if base.AllowNetwork || base.Env["LANG"] != "" {
		t.Error("merge mutated the base profile")
	}
}

func TestProfileValidate(t *testing.T) {
	good := Profile{ReadPaths: []string{"/usr"}, WritePaths: []string{"/tmp"}, WorkDir: "/tmp"}
	if err := good.Validate(); err != nil {
		t.Errorf("valid profile rejected: %v", err)
	}

	cases := []struct {
		name    string
		profile Profile
	}{
		{"relative path", Profile{ReadPaths: []string{"usr/lib"}}},
		{"unclean path", Profile{ReadPaths: []string{"/usr/../etc"}}},
		{"workdir outside allowed", Profile{ReadPaths: []string{"/usr"}, WorkDir: "/var"}},
		{"relative workdir", Profile{ReadPaths: []string{"/usr"}, WorkDir: "tmp"}},
	}
	for _, tc := range cases {
		if err := tc.profile.Validate(); err == nil {
			t.Errorf("%s: Validate accepted a bad profile", tc.name)
		}
	}
}

func TestPathAllowed(t *testing.T) {
	profile := Profile{ReadPaths: []string{"/usr"}, WritePaths: []string{"/tmp/work"}}

	for path, want := range map[string]bool{
		"/usr/bin/cat":    true,
		"/usr":            true,
		"/usrlocal":       false, // prefix match must respect path boundaries
		"/tmp/work/out":   true,
		"/tmp/other":      false,
		"/etc/passwd":     false,
		"/tmp/work/../up": false, // cleaned to /tmp/up before matching
	} {
		if got := profile.pathAllowed(path); got != want {
			t.Errorf("pathAllowed(%q) = %v, want %v", path, got, want)
		}
	}

	if !profile.writeAllowed("/tmp/work/out") {
		t.Error("writeAllowed rejected a write path")
	}
	if profile.writeAllowed("/usr/bin") {
		t.Error("writeAllowed accepted a read-only path")
	}
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `
profiles:
  default:
    read_paths: [/usr, /bin]
    write_paths: [/tmp]
    work_dir: /tmp
    env:
      PATH: /usr/bin:/bin
  network-tool:
    read_paths: [/usr]
    allow_network: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing profiles: %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("loaded %d profiles, want 2", len(profiles))
	}
	if !profiles["network-tool"].AllowNetwork {
		t.Error("network-tool profile lost allow_network")
	}
	if profiles["default"].Env["PATH"] != "/usr/bin:/bin" {
		t.Errorf("default profile env = %v", profiles["default"].Env)
	}
}

func TestLoadProfilesRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `
profiles:
  broken:
    read_paths: [relative/path]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing profiles: %v", err)
	}
	if _, err := LoadProfiles(path); err == nil {
		t.Error("LoadProfiles accepted an invalid profile")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("profiles: {}\n"), 0o644); err != nil {
		t.Fatalf("writing profiles: %v", err)
	}
	if _, err := LoadProfiles(empty); err == nil {
		t.Error("LoadProfiles accepted an empty profile set")
	}
}
