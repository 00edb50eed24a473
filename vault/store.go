// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gatehouse-project/gatehouse/lib/codec"
	"github.com/gatehouse-project/gatehouse/lib/secret"
)

// fileVersion is the on-disk vault format version.
const fileVersion = 1

// vaultFile is the CBOR document persisted to disk. Record values are
// sealed; everything else is plaintext metadata.
type vaultFile struct {
	Version  int               `cbor:"version"`
	KDF      kdfParams         `cbor:"kdf"`
	Verifier []byte            `cbor:"verifier"`
	Records  map[string]record `cbor:"records"`
}

type record struct {
	Meta       Metadata `cbor:"meta"`
	Ciphertext []byte   `cbor:"ciphertext"`
}

// Vault is an encrypted credential store. Reads share the lock;
// unlock, relock, and mutations take it exclusively.
type Vault struct {
	path   string
	logger *slog.Logger
	auth   *Authenticator
	now    func() time.Time

	mu     sync.RWMutex
	file   vaultFile
	master *secret.Buffer // nil while locked
}

// Config configures a Vault.
type Config struct {
	// Path of the vault file.
	Path string

	// Authenticator backs with_auth credentials. Nil means every
	// with_auth release fails with ErrAuthRequired.
	Authenticator *Authenticator

	// Logger for lifecycle events. Credential values are never logged.
	Logger *slog.Logger
}

func newVault(config Config) *Vault {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		path:   config.Path,
		logger: logger.With("component", "vault"),
		auth:   config.Authenticator,
		now:    time.Now,
	}
}

// Init creates a new vault file at config.Path and returns it
// unlocked. Fails if the file already exists. The passphrase is
// borrowed and NOT closed.
func Init(config Config, passphrase *secret.Buffer) (*Vault, error) {
	if _, err := os.Stat(config.Path); err == nil {
		return nil, fmt.Errorf("vault file %s already exists", config.Path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking vault path: %w", err)
	}

	params, err := defaultKDFParams()
	if err != nil {
		return nil, err
	}
	vault := newVault(config)
	vault.file = vaultFile{Version: fileVersion, KDF: params, Records: make(map[string]record)}

	master, err := deriveMasterKey(passphrase, params)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}
	verifierKey, err := deriveSubkey(master, hkdfInfoVerifier, "")
	if err != nil {
		master.Close()
		return nil, err
	}
	defer verifierKey.Close()

	verifier, err := sealBlob(verifierKey, verifierPlaintext, nil)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("sealing verifier: %w", err)
	}
	vault.file.Verifier = verifier
	vault.master = master

	if err := vault.persistLocked(); err != nil {
		master.Close()
		vault.master = nil
		return nil, err
	}
	vault.logger.Info("vault initialized", "path", config.Path)
	return vault, nil
}

// Open loads an existing vault file. The vault starts locked; call
// Unlock before reading credential values.
func Open(config Config) (*Vault, error) {
	data, err := os.ReadFile(config.Path)
	if err != nil {
		return nil, fmt.Errorf("reading vault file: %w", err)
	}
	vault := newVault(config)
	if err := codec.Unmarshal(data, &vault.file); err != nil {
		return nil, fmt.Errorf("parsing vault file: %w", err)
	}
	if vault.file.Version != fileVersion {
		return nil, fmt.Errorf("vault file version %d is not supported (expected %d)", vault.file.Version, fileVersion)
	}
	if vault.file.Records == nil {
		vault.file.Records = make(map[string]record)
	}
	return vault, nil
}

// Unlock derives the master key from the passphrase and verifies it
// against the stored verifier. Returns ErrBadPassphrase on mismatch.
// The passphrase is borrowed and NOT closed.
func (v *Vault) Unlock(passphrase *secret.Buffer) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.master != nil {
		return nil
	}

	master, err := deriveMasterKey(passphrase, v.file.KDF)
	if err != nil {
		return fmt.Errorf("deriving master key: %w", err)
	}
	verifierKey, err := deriveSubkey(master, hkdfInfoVerifier, "")
	if err != nil {
		master.Close()
		return err
	}
	defer verifierKey.Close()

	plaintext, err := openBlob(verifierKey, v.file.Verifier, nil)
	if err != nil {
		master.Close()
		return ErrBadPassphrase
	}
	secret.Zero(plaintext)

	v.master = master
	v.logger.Info("vault unlocked")
	return nil
}

// Lock zeros the master key. Pending reads complete first; new reads
// fail with ErrLocked.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.master == nil {
		return
	}
	v.master.Close()
	v.master = nil
	if v.auth != nil {
		v.auth.RevokeAll()
	}
	v.logger.Info("vault locked")
}

// Unlocked reports whether the master key is loaded.
func (v *Vault) Unlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.master != nil
}

// AttachAuthenticator wires the TOTP challenge onto an already-open
// vault. Used when the challenge seed is itself a vault credential and
// so cannot exist before the vault is unlocked. A second attach is a
// no-op.
func (v *Vault) AttachAuthenticator(auth *Authenticator) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.auth == nil {
		v.auth = auth
	}
}

// Store seals value under name. Storing an existing name fails with
// ErrExists unless overwrite is set; a rejected store leaves the vault
// untouched. The value is borrowed and NOT closed.
func (v *Vault) Store(name string, kind Kind, policy Policy, skills []string, value *secret.Buffer, overwrite bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown credential kind %q", kind)
	}
	if !policy.Valid() {
		return fmt.Errorf("unknown access policy %q", policy)
	}
	if policy == PolicySkillOnly && len(skills) == 0 {
		return fmt.Errorf("policy skill_only requires at least one skill")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.master == nil {
		return ErrLocked
	}

	previous, exists := v.file.Records[name]
	if exists && !overwrite {
		return fmt.Errorf("credential %q: %w", name, ErrExists)
	}

	subkey, err := deriveSubkey(v.master, hkdfInfoCredential, name)
	if err != nil {
		return err
	}
	defer subkey.Close()

	ciphertext, err := sealBlob(subkey, value.Bytes(), []byte(name))
	if err != nil {
		return fmt.Errorf("sealing credential %q: %w", name, err)
	}

	now := v.now().UTC()
	meta := Metadata{
		Name:      name,
		Kind:      kind,
		Policy:    policy,
		Skills:    skills,
		Checksum:  checksum(value.Bytes()),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if exists {
		meta.CreatedAt = previous.Meta.CreatedAt
	}

	v.file.Records[name] = record{Meta: meta, Ciphertext: ciphertext}
	if err := v.persistLocked(); err != nil {
		if exists {
			v.file.Records[name] = previous
		} else {
			delete(v.file.Records, name)
		}
		return err
	}
	v.logger.Info("credential stored", "name", name, "kind", kind, "policy", policy, "overwrite", exists)
	return nil
}

// GetOptions identify the requester for policy enforcement.
type GetOptions struct {
	// SessionToken authenticates with_auth requests.
	SessionToken string

	// Skill names the requesting skill for skill_only credentials.
	Skill string

	// Approver handles with_approval requests. Nil denies them.
	Approver Approver

	// Reason is shown to the approver.
	Reason string
}

// Get releases a credential value after enforcing its policy. The
// returned buffer must be closed by the caller.
func (v *Vault) Get(ctx context.Context, name string, opts GetOptions) (*secret.Buffer, error) {
	meta, err := v.snapshot(name)
	if err != nil {
		return nil, err
	}

	switch meta.Policy {
	case PolicyAlways:
		// No gate beyond the unlocked vault.
	case PolicyWithAuth:
		if v.auth == nil || opts.SessionToken == "" {
			return nil, fmt.Errorf("credential %q: %w", name, ErrAuthRequired)
		}
		if err := v.auth.Verify(opts.SessionToken); err != nil {
			return nil, fmt.Errorf("credential %q: %w", name, err)
		}
	case PolicyWithApproval:
		if opts.Approver == nil {
			return nil, fmt.Errorf("credential %q requires approval and no approver is available: %w", name, ErrForbidden)
		}
		// The approver may block on a human; run it outside the vault
		// lock so other reads proceed.
		approved, err := opts.Approver.Approve(ctx, name, opts.Reason)
		if err != nil {
			return nil, fmt.Errorf("credential %q: approval: %w", name, err)
		}
		if !approved {
			v.logger.Warn("credential release denied by approver", "name", name)
			return nil, fmt.Errorf("credential %q: approval denied: %w", name, ErrForbidden)
		}
	case PolicySkillOnly:
		allowed := false
		for _, skill := range meta.Skills {
			if skill == opts.Skill {
				allowed = true
			}
		}
		if !allowed {
			v.logger.Warn("credential release denied", "name", name, "skill", opts.Skill)
			return nil, fmt.Errorf("credential %q is restricted to skills %v: %w", name, meta.Skills, ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("credential %q has unknown policy %q: %w", name, meta.Policy, ErrForbidden)
	}

	return v.open(name)
}

// snapshot reads a credential's metadata under the shared lock,
// checking lock state and the disabled flag.
func (v *Vault) snapshot(name string) (Metadata, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.master == nil {
		return Metadata{}, ErrLocked
	}
	rec, ok := v.file.Records[name]
	if !ok {
		return Metadata{}, fmt.Errorf("credential %q: %w", name, ErrNotFound)
	}
	if rec.Meta.Disabled {
		return Metadata{}, fmt.Errorf("credential %q: %w", name, ErrDisabled)
	}
	return rec.Meta, nil
}

// open decrypts a record under the shared lock. State is re-checked:
// the vault may have been locked or the record deleted while an
// approver was deliberating.
func (v *Vault) open(name string) (*secret.Buffer, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.master == nil {
		return nil, ErrLocked
	}
	rec, ok := v.file.Records[name]
	if !ok {
		return nil, fmt.Errorf("credential %q: %w", name, ErrNotFound)
	}
	if rec.Meta.Disabled {
		return nil, fmt.Errorf("credential %q: %w", name, ErrDisabled)
	}

	subkey, err := deriveSubkey(v.master, hkdfInfoCredential, name)
	if err != nil {
		return nil, err
	}
	defer subkey.Close()

	plaintext, err := openBlob(subkey, rec.Ciphertext, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("opening credential %q: %w", name, err)
	}
	if sum := checksum(plaintext); sum != rec.Meta.Checksum {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("credential %q failed its integrity check", name)
	}
	return secret.FromBytes(plaintext)
}

// Peek returns a credential's metadata without releasing its value or
// consulting its policy.
func (v *Vault) Peek(name string) (Metadata, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.file.Records[name]
	if !ok {
		return Metadata{}, fmt.Errorf("credential %q: %w", name, ErrNotFound)
	}
	return rec.Meta, nil
}

// List returns metadata for every credential, sorted by name. Works on
// a locked vault: metadata is not sealed.
func (v *Vault) List() []Metadata {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := make([]Metadata, 0, len(v.file.Records))
	for _, rec := range v.file.Records {
		entries = append(entries, rec.Meta)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Delete removes a credential.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.master == nil {
		return ErrLocked
	}
	previous, ok := v.file.Records[name]
	if !ok {
		return fmt.Errorf("credential %q: %w", name, ErrNotFound)
	}
	delete(v.file.Records, name)
	if err := v.persistLocked(); err != nil {
		v.file.Records[name] = previous
		return err
	}
	v.logger.Info("credential deleted", "name", name)
	return nil
}

// SetPolicy changes a credential's release policy.
func (v *Vault) SetPolicy(name string, policy Policy, skills []string) error {
	if !policy.Valid() {
		return fmt.Errorf("unknown access policy %q", policy)
	}
	if policy == PolicySkillOnly && len(skills) == 0 {
		return fmt.Errorf("policy skill_only requires at least one skill")
	}
	return v.updateMeta(name, func(meta *Metadata) {
		meta.Policy = policy
		meta.Skills = skills
	})
}

// SetDisabled toggles a credential's disabled flag. Disabled
// credentials stay stored but every release fails with ErrDisabled.
func (v *Vault) SetDisabled(name string, disabled bool) error {
	return v.updateMeta(name, func(meta *Metadata) {
		meta.Disabled = disabled
	})
}

func (v *Vault) updateMeta(name string, apply func(*Metadata)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.master == nil {
		return ErrLocked
	}
	previous, ok := v.file.Records[name]
	if !ok {
		return fmt.Errorf("credential %q: %w", name, ErrNotFound)
	}

	updated := previous
	apply(&updated.Meta)
	updated.Meta.UpdatedAt = v.now().UTC()
	v.file.Records[name] = updated
	if err := v.persistLocked(); err != nil {
		v.file.Records[name] = previous
		return err
	}
	return nil
}

// persistLocked writes the vault file atomically: temp file in the
// same directory, fsync, rename. Caller holds the write lock.
func (v *Vault) persistLocked() error {
	data, err := codec.Marshal(v.file)
	if err != nil {
		return fmt.Errorf("encoding vault file: %w", err)
	}

	dir := filepath.Dir(v.path)
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("creating temp vault file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting vault file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing vault file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing vault file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing vault file: %w", err)
	}
	if err := os.Rename(tmpPath, v.path); err != nil {
		return fmt.Errorf("replacing vault file: %w", err)
	}
	return nil
}
