// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault stores credentials encrypted at rest and gates their
// release behind per-credential access policies.
//
// The vault file is a CBOR document. A master key is derived from the
// operator passphrase with argon2id; each credential is sealed under
// its own HKDF-derived subkey with XChaCha20-Poly1305, so no two
// records share a key and a record cannot be swapped under another
// name without failing authentication. Decrypted values are returned
// in secret.Buffer memory (mlock'd, excluded from core dumps, zeroed
// on close).
//
// Key exports:
//   - Vault: the store. Init / Open / Unlock / Lock, Store / Get /
//     List / Delete, SetPolicy / SetDisabled.
//   - Policy: per-credential release policy (always, with_approval,
//     with_auth, skill_only).
//   - Authenticator: TOTP challenge with failure lockout, issuing
//     short-lived sessions for with_auth credentials.
//   - Export / RestoreBackup: age-encrypted, zstd-compressed backups.
package vault
