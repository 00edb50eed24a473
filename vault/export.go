// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"github.com/gatehouse-project/gatehouse/lib/codec"
	"github.com/gatehouse-project/gatehouse/lib/secret"
)

// Export writes an encrypted backup of the vault to w: the CBOR vault
// document, zstd-compressed, age-encrypted to the given recipient
// public keys (age1... format). Credential values stay sealed under
// the vault master key inside the backup, so a backup holder still
// needs the passphrase. Works on a locked vault.
func (v *Vault) Export(w io.Writer, recipientKeys []string) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	v.mu.RLock()
	data, err := codec.Marshal(v.file)
	records := len(v.file.Records)
	v.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding vault: %w", err)
	}

	encryptor, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	compressor, err := zstd.NewWriter(encryptor)
	if err != nil {
		return fmt.Errorf("creating zstd compressor: %w", err)
	}
	if _, err := compressor.Write(data); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	if err := encryptor.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	v.logger.Info("vault exported", "recipients", len(recipientKeys), "records", records)
	return nil
}

// RestoreBackup decrypts a backup produced by Export with the age
// identity key (AGE-SECRET-KEY-1... in a protected buffer), validates
// it, and writes it to path. Fails if path already exists. The
// identity is borrowed and NOT closed.
func RestoreBackup(path string, backup io.Reader, identityKey *secret.Buffer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("vault file %s already exists", path)
	}

	identity, err := age.ParseX25519Identity(identityKey.String())
	if err != nil {
		return fmt.Errorf("parsing identity key: %w", err)
	}

	decryptor, err := age.Decrypt(backup, identity)
	if err != nil {
		return fmt.Errorf("decrypting backup: %w", err)
	}
	decompressor, err := zstd.NewReader(decryptor)
	if err != nil {
		return fmt.Errorf("creating zstd decompressor: %w", err)
	}
	defer decompressor.Close()

	data, err := io.ReadAll(decompressor)
	if err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}

	// Reject corrupt or truncated backups before touching disk.
	var file vaultFile
	if err := codec.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("backup is not a valid vault: %w", err)
	}
	if file.Version != fileVersion {
		return fmt.Errorf("backup vault version %d is not supported (expected %d)", file.Version, fileVersion)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing vault file: %w", err)
	}
	return nil
}

// GenerateBackupIdentity creates an age keypair for backups. The
// private identity is returned in a protected buffer; the public
// recipient string is safe to store in configuration.
func GenerateBackupIdentity() (*secret.Buffer, string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", fmt.Errorf("generating age keypair: %w", err)
	}
	// The identity string is briefly on the heap; the buffer is the
	// durable copy.
	private, err := secret.FromBytes([]byte(identity.String()))
	if err != nil {
		return nil, "", fmt.Errorf("protecting identity key: %w", err)
	}
	return private, identity.Recipient().String(), nil
}
