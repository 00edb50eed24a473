// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/gatehouse-project/gatehouse/lib/secret"
)

const testPassphrase = "correct horse battery staple"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	passphrase, err := secret.FromString(testPassphrase)
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	defer passphrase.Close()

	vault, err := Init(Config{Path: filepath.Join(t.TempDir(), "vault.cbor")}, passphrase)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return vault
}

func mustStore(t *testing.T, v *Vault, name string, policy Policy, skills []string, value string) {
	t.Helper()
	buffer, err := secret.FromString(value)
	if err != nil {
		t.Fatalf("creating value buffer: %v", err)
	}
	defer buffer.Close()
	if err := v.Store(name, KindAPIKey, policy, skills, buffer, false); err != nil {
		t.Fatalf("Store(%s) failed: %v", name, err)
	}
}

func TestStoreGetRoundTrip(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "anthropic", PolicyAlways, nil, "sk-ant-test-value")

	value, err := vault.Get(context.Background(), "anthropic", GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer value.Close()
	if got := value.String(); got != "sk-ant-test-value" {
		t.Errorf("value = %q, want the stored secret", got)
	}
}

func TestInitRejectsExistingFile(t *testing.T) {
	vault := newTestVault(t)
	passphrase, _ := secret.FromString(testPassphrase)
	defer passphrase.Close()
	if _, err := Init(Config{Path: vault.path}, passphrase); err == nil {
		t.Error("Init overwrote an existing vault file")
	}
}

func TestDuplicateStoreRejectedWithoutMutation(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "token", PolicyAlways, nil, "original")

	attempt, _ := secret.FromString("replacement")
	defer attempt.Close()
	err := vault.Store("token", KindAPIKey, PolicyAlways, nil, attempt, false)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate store error = %v, want ErrExists", err)
	}

	value, err := vault.Get(context.Background(), "token", GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer value.Close()
	if got := value.String(); got != "original" {
		t.Errorf("value = %q after rejected overwrite, want %q", got, "original")
	}
}

func TestOverwritePreservesCreatedAt(t *testing.T) {
	vault := newTestVault(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	vault.now = func() time.Time { return base }
	mustStore(t, vault, "token", PolicyAlways, nil, "one")

	vault.now = func() time.Time { return base.Add(time.Hour) }
	replacement, _ := secret.FromString("two")
	defer replacement.Close()
	if err := vault.Store("token", KindAPIKey, PolicyAlways, nil, replacement, true); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	meta, err := vault.Peek("token")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if !meta.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want the original %v", meta.CreatedAt, base)
	}
	if !meta.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want the overwrite time", meta.UpdatedAt)
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	vault := newTestVault(t)
	vault.Lock()

	wrong, _ := secret.FromString("not the passphrase")
	defer wrong.Close()
	if err := vault.Unlock(wrong); !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("Unlock error = %v, want ErrBadPassphrase", err)
	}
	if vault.Unlocked() {
		t.Error("vault unlocked with the wrong passphrase")
	}
}

func TestLockedVaultRejectsValueAccess(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "token", PolicyAlways, nil, "value")
	vault.Lock()

	if _, err := vault.Get(context.Background(), "token", GetOptions{}); !errors.Is(err, ErrLocked) {
		t.Errorf("Get on locked vault = %v, want ErrLocked", err)
	}
	buffer, _ := secret.FromString("new")
	defer buffer.Close()
	if err := vault.Store("other", KindAPIKey, PolicyAlways, nil, buffer, false); !errors.Is(err, ErrLocked) {
		t.Errorf("Store on locked vault = %v, want ErrLocked", err)
	}

	// Metadata stays readable: listing does not need the master key.
	if entries := vault.List(); len(entries) != 1 || entries[0].Name != "token" {
		t.Errorf("List on locked vault = %v, want the stored metadata", entries)
	}
}

func TestReopenPersistedVault(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "token", PolicyAlways, nil, "survives restart")
	path := vault.path
	vault.Lock()

	reopened, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if reopened.Unlocked() {
		t.Fatal("reopened vault is not locked")
	}

	passphrase, _ := secret.FromString(testPassphrase)
	defer passphrase.Close()
	if err := reopened.Unlock(passphrase); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	value, err := reopened.Get(context.Background(), "token", GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer value.Close()
	if got := value.String(); got != "survives restart" {
		t.Errorf("value = %q after reopen", got)
	}
}

func TestSkillOnlyPolicy(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "deploy-key", PolicySkillOnly, []string{"deploy", "release"}, "value")

	if _, err := vault.Get(context.Background(), "deploy-key", GetOptions{Skill: "browse"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("unlisted skill = %v, want ErrForbidden", err)
	}
	if _, err := vault.Get(context.Background(), "deploy-key", GetOptions{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("no skill = %v, want ErrForbidden", err)
	}

	value, err := vault.Get(context.Background(), "deploy-key", GetOptions{Skill: "deploy"})
	if err != nil {
		t.Fatalf("listed skill rejected: %v", err)
	}
	value.Close()
}

func TestWithApprovalPolicy(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "prod-token", PolicyWithApproval, nil, "value")
	ctx := context.Background()

	if _, err := vault.Get(ctx, "prod-token", GetOptions{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("no approver = %v, want ErrForbidden", err)
	}

	deny := ApproverFunc(func(ctx context.Context, name, reason string) (bool, error) { return false, nil })
	if _, err := vault.Get(ctx, "prod-token", GetOptions{Approver: deny}); !errors.Is(err, ErrForbidden) {
		t.Errorf("denied approval = %v, want ErrForbidden", err)
	}

	var sawReason string
	grant := ApproverFunc(func(ctx context.Context, name, reason string) (bool, error) {
		sawReason = reason
		return true, nil
	})
	value, err := vault.Get(ctx, "prod-token", GetOptions{Approver: grant, Reason: "deploying v2"})
	if err != nil {
		t.Fatalf("approved release failed: %v", err)
	}
	value.Close()
	if sawReason != "deploying v2" {
		t.Errorf("approver saw reason %q", sawReason)
	}
}

func TestWithAuthPolicy(t *testing.T) {
	seed, _, err := GenerateSeed("gatehouse-test", "operator")
	if err != nil {
		t.Fatalf("GenerateSeed failed: %v", err)
	}
	auth := NewAuthenticator(seed, AuthConfig{})
	seedValue := seed.String()

	passphrase, _ := secret.FromString(testPassphrase)
	defer passphrase.Close()
	vault, err := Init(Config{
		Path:          filepath.Join(t.TempDir(), "vault.cbor"),
		Authenticator: auth,
	}, passphrase)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	mustStore(t, vault, "guarded", PolicyWithAuth, nil, "value")
	ctx := context.Background()

	if _, err := vault.Get(ctx, "guarded", GetOptions{}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("no session = %v, want ErrAuthRequired", err)
	}
	if _, err := vault.Get(ctx, "guarded", GetOptions{SessionToken: "bogus"}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("bogus session = %v, want ErrAuthRequired", err)
	}

	code, err := totp.GenerateCode(seedValue, time.Now())
	if err != nil {
		t.Fatalf("generating test code: %v", err)
	}
	session, err := auth.Authenticate(code)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	value, err := vault.Get(ctx, "guarded", GetOptions{SessionToken: session.Token})
	if err != nil {
		t.Fatalf("authenticated release failed: %v", err)
	}
	value.Close()

	// Relocking the vault revokes sessions.
	vault.Lock()
	if err := vault.Unlock(passphrase); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if _, err := vault.Get(ctx, "guarded", GetOptions{SessionToken: session.Token}); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("stale session after relock = %v, want ErrAuthRequired", err)
	}
}

func TestDisabledCredential(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "token", PolicyAlways, nil, "value")

	if err := vault.SetDisabled("token", true); err != nil {
		t.Fatalf("SetDisabled failed: %v", err)
	}
	if _, err := vault.Get(context.Background(), "token", GetOptions{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled credential = %v, want ErrDisabled", err)
	}

	if err := vault.SetDisabled("token", false); err != nil {
		t.Fatalf("re-enable failed: %v", err)
	}
	value, err := vault.Get(context.Background(), "token", GetOptions{})
	if err != nil {
		t.Fatalf("re-enabled credential rejected: %v", err)
	}
	value.Close()
}

func TestSetPolicy(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "token", PolicyAlways, nil, "value")

	if err := vault.SetPolicy("token", PolicySkillOnly, []string{"deploy"}); err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}
	if _, err := vault.Get(context.Background(), "token", GetOptions{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("policy change not enforced: %v", err)
	}

	if err := vault.SetPolicy("token", PolicySkillOnly, nil); err == nil {
		t.Error("SetPolicy accepted skill_only with no skills")
	}
}

func TestDeleteCredential(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "token", PolicyAlways, nil, "value")

	if err := vault.Delete("token"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := vault.Get(context.Background(), "token", GetOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted credential = %v, want ErrNotFound", err)
	}
	if err := vault.Delete("token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestListIsSortedMetadataOnly(t *testing.T) {
	vault := newTestVault(t)
	mustStore(t, vault, "zulu", PolicyAlways, nil, "one")
	mustStore(t, vault, "alpha", PolicyAlways, nil, "two")

	entries := vault.List()
	if len(entries) != 2 || entries[0].Name != "alpha" || entries[1].Name != "zulu" {
		t.Fatalf("List = %v, want alpha then zulu", entries)
	}
	for _, meta := range entries {
		if strings.Contains(meta.Checksum, "one") || strings.Contains(meta.Checksum, "two") {
			t.Error("metadata leaks the credential value")
		}
	}
}

func TestValidateNameRejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"", "../evil", "has space", ".hidden", strings.Repeat("a", 200)} {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) accepted an unsafe name", name)
		}
	}
	for _, name := range []string{"anthropic", "deploy-key.prod", "a_b-c.d"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
}

func TestGenerateSSHKey(t *testing.T) {
	vault := newTestVault(t)
	publicKey, err := vault.GenerateSSHKey("ci-deploy", PolicyAlways, nil, "ci@gatehouse")
	if err != nil {
		t.Fatalf("GenerateSSHKey failed: %v", err)
	}
	if !strings.HasPrefix(publicKey, "ssh-ed25519 ") {
		t.Errorf("public key = %q, want ssh-ed25519 form", publicKey)
	}
	if !strings.HasSuffix(publicKey, " ci@gatehouse") {
		t.Errorf("public key %q lacks the comment", publicKey)
	}

	value, err := vault.Get(context.Background(), "ci-deploy", GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer value.Close()
	if !strings.Contains(value.String(), "OPENSSH PRIVATE KEY") {
		t.Error("stored value is not an OpenSSH private key PEM")
	}

	meta, err := vault.Peek("ci-deploy")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if meta.Kind != KindSSHKey {
		t.Errorf("kind = %s, want ssh_key", meta.Kind)
	}

	if _, err := vault.GenerateSSHKey("ci-deploy", PolicyAlways, nil, ""); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate key name = %v, want ErrExists", err)
	}
}
