// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gatehouse-project/gatehouse/lib/codec"
)

// PolicyEnvVar carries the encoded confinement policy into the
// re-exec'd helper process. Its presence is how the binary knows it
// was started as a sandbox helper rather than by an operator.
const PolicyEnvVar = "GATEHOUSE_SANDBOX_POLICY"

// minLandlockABI is the minimum Landlock ABI this backend accepts.
// ABI 1 (Linux 5.13) covers the filesystem rules; the TRUNCATE right
// arrives with ABI 3 and is included when present.
const minLandlockABI = 1

// landlockBackend restricts the command's filesystem view with
// kernel-enforced Landlock rules. Go cannot apply Landlock between
// fork and exec, so Execute re-runs this binary as a helper: the
// helper restricts itself, then execs the target command. The rules
// survive the exec and are inherited by every descendant.
//
// Landlock before ABI 4 has no network rules; a profile that denies
// network still runs, with a logged warning that network isolation is
// not enforced by this backend.
type landlockBackend struct {
	logger *slog.Logger
}

func newLandlockBackend(logger *slog.Logger) *landlockBackend {
	return &landlockBackend{logger: logger.With("backend", "landlock")}
}

func (l *landlockBackend) Name() string { return "landlock" }

var (
	landlockProbeOnce sync.Once
	landlockABI       int
)

// probeLandlockABI asks the kernel for its Landlock ABI version.
// Returns 0 when Landlock is absent or disabled.
func probeLandlockABI() int {
	landlockProbeOnce.Do(func() {
		version, err := unix.LandlockCreateRuleset(nil, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
		if err != nil {
			landlockABI = 0
			return
		}
		landlockABI = version
	})
	return landlockABI
}

func (l *landlockBackend) Available() error {
	version := probeLandlockABI()
	if version == 0 {
		return fmt.Errorf("landlock not available (requires Linux 5.13+ with CONFIG_SECURITY_LANDLOCK): %w", ErrBackendUnavailable)
	}
	if version < minLandlockABI {
		return fmt.Errorf("landlock ABI %d below required %d: %w", version, minLandlockABI, ErrBackendUnavailable)
	}
	return nil
}

// helperPolicy is the CBOR document handed to the helper process.
type helperPolicy struct {
	ReadPaths  []string          `cbor:"read_paths"`
	WritePaths []string          `cbor:"write_paths"`
	Env        map[string]string `cbor:"env"`
	WorkDir    string            `cbor:"work_dir"`
	Command    []string          `cbor:"command"`
}

func (l *landlockBackend) Execute(ctx context.Context, request Request) (Output, error) {
	if len(request.Command) == 0 {
		return Output{}, fmt.Errorf("empty command")
	}
	if err := request.Profile.Validate(); err != nil {
		return Output{}, fmt.Errorf("invalid profile: %w", err)
	}
	if err := l.Available(); err != nil {
		return Output{}, err
	}
	if !request.Profile.AllowNetwork {
		l.logger.Warn("profile denies network but the landlock backend does not enforce network isolation",
			"abi", probeLandlockABI())
	}

	self, err := os.Executable()
	if err != nil {
		return Output{}, fmt.Errorf("resolving own executable: %w", err)
	}

	policy := helperPolicy{
		ReadPaths:  request.Profile.ReadPaths,
		WritePaths: request.Profile.WritePaths,
		Env:        request.Profile.Env,
		WorkDir:    request.Profile.WorkDir,
		Command:    request.Command,
	}
	encoded, err := codec.Marshal(policy)
	if err != nil {
		return Output{}, fmt.Errorf("encoding sandbox policy: %w", err)
	}

	// The helper needs to read its own binary and the policy; the
	// command's environment is carried inside the policy and restored
	// by the helper at exec.
	request.Profile = request.Profile.Clone()
	request.Profile.Env[PolicyEnvVar] = base64.StdEncoding.EncodeToString(encoded)
	// The helper chdirs after restricting itself.
	request.Profile.WorkDir = ""

	return runCommand(ctx, []string{self}, request, l.logger)
}

// HelperMain is the entry point of the re-exec'd helper process. It
// decodes the policy from the environment, applies the Landlock
// ruleset to itself, and execs the target command in place. Called by
// the main binary when PolicyEnvVar is set; never returns on success.
func HelperMain() error {
	encoded := os.Getenv(PolicyEnvVar)
	if encoded == "" {
		return fmt.Errorf("%s is not set", PolicyEnvVar)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decoding sandbox policy: %w", err)
	}
	var policy helperPolicy
	if err := codec.Unmarshal(raw, &policy); err != nil {
		return fmt.Errorf("parsing sandbox policy: %w", err)
	}
	if len(policy.Command) == 0 {
		return fmt.Errorf("sandbox policy has no command")
	}

	if err := applyLandlock(policy.ReadPaths, policy.WritePaths); err != nil {
		return err
	}

	if policy.WorkDir != "" {
		if err := os.Chdir(policy.WorkDir); err != nil {
			return fmt.Errorf("entering work dir: %w", err)
		}
	}

	delete(policy.Env, PolicyEnvVar)
	binary, err := resolveBinary(policy.Command[0], policy.Env["PATH"])
	if err != nil {
		return err
	}
	return unix.Exec(binary, policy.Command, environList(policy.Env))
}

// Access masks. Read implies executing binaries and listing
// directories; write is the full mutation set. TRUNCATE exists from
// ABI 3 and is added when the kernel supports it.
func landlockAccessMasks(abi int) (read, write uint64) {
	read = unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_DIR |
		unix.LANDLOCK_ACCESS_FS_EXECUTE

	write = unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_MAKE_CHAR |
		unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG |
		unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_FIFO |
		unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_SYM
	if abi >= 2 {
		write |= unix.LANDLOCK_ACCESS_FS_REFER
	}
	if abi >= 3 {
		write |= unix.LANDLOCK_ACCESS_FS_TRUNCATE
	}
	return read, write
}

// applyLandlock restricts the calling process: read paths get read
// and execute, write paths get read plus the mutation set, everything
// else is denied.
func applyLandlock(readPaths, writePaths []string) error {
	abi := probeLandlockABI()
	if abi < minLandlockABI {
		return fmt.Errorf("landlock ABI %d below required %d: %w", abi, minLandlockABI, ErrBackendUnavailable)
	}
	readAccess, writeAccess := landlockAccessMasks(abi)

	attr := unix.LandlockRulesetAttr{Access_fs: readAccess | writeAccess}
	rulesetFd, err := unix.LandlockCreateRuleset(&attr, unsafe.Sizeof(attr), 0)
	if err != nil {
		return fmt.Errorf("creating landlock ruleset: %w", err)
	}
	defer unix.Close(rulesetFd)

	addRule := func(path string, access uint64) error {
		fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
		if err != nil {
			// Tolerate missing profile paths, same as the bind-mount
			// backends.
			if err == unix.ENOENT {
				return nil
			}
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer unix.Close(fd)

		ruleAttr := unix.LandlockPathBeneathAttr{
			Allowed_access: access,
			Parent_fd:      int32(fd),
		}
		if err := unix.LandlockAddRule(rulesetFd, unix.LANDLOCK_RULE_PATH_BENEATH, unsafe.Pointer(&ruleAttr), 0); err != nil {
			return fmt.Errorf("adding landlock rule for %s: %w", path, err)
		}
		return nil
	}

	for _, path := range readPaths {
		if err := addRule(path, readAccess); err != nil {
			return err
		}
	}
	for _, path := range writePaths {
		if err := addRule(path, readAccess|writeAccess); err != nil {
			return err
		}
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("setting no_new_privs: %w", err)
	}
	if err := unix.LandlockRestrictSelf(rulesetFd, 0); err != nil {
		return fmt.Errorf("applying landlock ruleset: %w", err)
	}
	return nil
}

// resolveBinary resolves command[0] against the policy's PATH. The
// helper cannot use the parent's PATH: the policy environment is the
// only one the command sees.
func resolveBinary(name, pathList string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	for _, dir := range strings.Split(pathList, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("command %q not found in sandbox PATH", name)
}
