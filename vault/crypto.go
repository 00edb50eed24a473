// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/gatehouse-project/gatehouse/lib/secret"
)

// keySize is the size of every symmetric key in the vault: the master
// key and all HKDF-derived subkeys.
const keySize = 32

// blobVersion is prepended to every sealed record and authenticated as
// AAD, so a version downgrade fails decryption.
const blobVersion byte = 0x01

// blobOverhead is the per-record byte overhead:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings providing domain separation between derivation
// paths. Changing any of these invalidates every vault on disk.
var (
	hkdfInfoCredential = []byte("gatehouse.vault.credential.v1")
	hkdfInfoVerifier   = []byte("gatehouse.vault.verifier.v1")
)

// verifierPlaintext is the known value sealed under the verifier
// subkey at init. Unlock proves the passphrase by opening it.
var verifierPlaintext = []byte("gatehouse.vault.ok")

// kdfParams are the argon2id parameters stored alongside the vault so
// old vaults keep unlocking after defaults change.
type kdfParams struct {
	Salt    []byte `cbor:"salt"`
	Time    uint32 `cbor:"time"`
	Memory  uint32 `cbor:"memory"` // KiB
	Threads uint8  `cbor:"threads"`
}

// defaultKDFParams returns current-generation argon2id parameters with
// a fresh random salt.
func defaultKDFParams() (kdfParams, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return kdfParams{}, fmt.Errorf("generating KDF salt: %w", err)
	}
	return kdfParams{Salt: salt, Time: 3, Memory: 64 * 1024, Threads: 4}, nil
}

// deriveMasterKey stretches the passphrase into the vault master key.
// The passphrase buffer is borrowed and NOT closed.
func deriveMasterKey(passphrase *secret.Buffer, params kdfParams) (*secret.Buffer, error) {
	key := argon2.IDKey(passphrase.Bytes(), params.Salt, params.Time, params.Memory, params.Threads, keySize)
	// FromBytes zeros the heap copy.
	return secret.FromBytes(key)
}

// deriveSubkey derives a per-purpose key from the master key via
// HKDF-SHA256. The context (typically the credential name) binds the
// subkey to one record. The masterKey is borrowed and NOT closed; the
// returned buffer must be closed by the caller.
func deriveSubkey(masterKey *secret.Buffer, info []byte, context string) (*secret.Buffer, error) {
	full := make([]byte, 0, len(info)+1+len(context))
	full = append(full, info...)
	full = append(full, 0x00)
	full = append(full, context...)

	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, full)
	derived := make([]byte, keySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.FromBytes(derived)
}

// sealBlob encrypts plaintext under key using XChaCha20-Poly1305:
//
//	[Version: 1 byte] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
//
// The version byte and aad (the credential name) are authenticated, so
// a record re-filed under another name fails to open.
//
// The key is borrowed and NOT closed.
func sealBlob(key *secret.Buffer, plaintext []byte, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = blobVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, buildAAD(blobVersion, aad)), nil
}

// openBlob decrypts a blob produced by sealBlob. The key is borrowed
// and NOT closed.
func openBlob(key *secret.Buffer, blob []byte, aad []byte) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, fmt.Errorf("sealed record is %d bytes, minimum is %d", len(blob), blobOverhead)
	}
	version := blob[0]
	if version != blobVersion {
		return nil, fmt.Errorf("sealed record version %d is not supported (expected %d)", version, blobVersion)
	}

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(version, aad))
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key or tampered record): %w", err)
	}
	return plaintext, nil
}

func buildAAD(version byte, context []byte) []byte {
	aad := make([]byte, 1+len(context))
	aad[0] = version
	copy(aad[1:], context)
	return aad
}

// checksum returns the hex blake3 hash of data.
func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
