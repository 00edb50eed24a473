// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Kind classifies what a credential is. It affects display and export
// handling, not encryption.
type Kind string

const (
	KindAPIKey     Kind = "api_key"
	KindSSHKey     Kind = "ssh_key"
	KindPassword   Kind = "password"
	KindSecureNote Kind = "secure_note"
	KindPayment    Kind = "payment"
	KindForm       Kind = "form"
	KindPasskey    Kind = "passkey"
)

// Kinds lists every credential kind.
var Kinds = []Kind{
	KindAPIKey, KindSSHKey, KindPassword, KindSecureNote,
	KindPayment, KindForm, KindPasskey,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Policy controls what must happen before a credential is released.
type Policy string

const (
	// PolicyAlways releases the credential to any requester while the
	// vault is unlocked.
	PolicyAlways Policy = "always"

	// PolicyWithApproval requires an interactive operator approval for
	// each release.
	PolicyWithApproval Policy = "with_approval"

	// PolicyWithAuth requires a live authentication session (TOTP
	// challenge passed, session unexpired).
	PolicyWithAuth Policy = "with_auth"

	// PolicySkillOnly releases only to requesters named in the
	// credential's skill list.
	PolicySkillOnly Policy = "skill_only"
)

// Policies lists every release policy.
var Policies = []Policy{PolicyAlways, PolicyWithApproval, PolicyWithAuth, PolicySkillOnly}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	for _, known := range Policies {
		if p == known {
			return true
		}
	}
	return false
}

// Metadata describes a stored credential without its value. List
// returns these; they are safe to log and display.
type Metadata struct {
	Name     string   `cbor:"name" json:"name"`
	Kind     Kind     `cbor:"kind" json:"kind"`
	Policy   Policy   `cbor:"policy" json:"policy"`
	Skills   []string `cbor:"skills,omitempty" json:"skills,omitempty"`
	Disabled bool     `cbor:"disabled,omitempty" json:"disabled,omitempty"`

	// Checksum is the hex blake3 hash of the plaintext value, kept for
	// integrity cross-checks and change detection without decryption.
	Checksum string `cbor:"checksum" json:"checksum"`

	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
	UpdatedAt time.Time `cbor:"updated_at" json:"updated_at"`
}

// Sentinel errors. Callers match with errors.Is.
var (
	ErrLocked        = errors.New("vault is locked")
	ErrNotFound      = errors.New("credential not found")
	ErrExists        = errors.New("credential already exists")
	ErrDisabled      = errors.New("credential is disabled")
	ErrForbidden     = errors.New("access denied by credential policy")
	ErrAuthRequired  = errors.New("authentication required")
	ErrExpired       = errors.New("authentication session expired")
	ErrInvalidCode   = errors.New("invalid authentication code")
	ErrBadPassphrase = errors.New("wrong passphrase")
)

// RateLimitedError reports that authentication is locked out after too
// many failed codes. Correct codes are rejected until RetryAfter has
// elapsed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("authentication locked out, retry in %s", e.RetryAfter.Round(time.Second))
}

// Approver decides release requests for with_approval credentials.
// Implementations typically prompt the operator; they must honor the
// context deadline.
type Approver interface {
	Approve(ctx context.Context, name string, reason string) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, name string, reason string) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, name string, reason string) (bool, error) {
	return f(ctx, name, reason)
}

// credential names are path- and log-safe by construction.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ValidateName checks a credential name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid credential name %q: must match %s", name, namePattern)
	}
	return nil
}
