// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/gatehouse-project/gatehouse/lib/secret"
)

// GenerateSSHKey creates an ed25519 keypair, stores the private key in
// OpenSSH PEM form under name, and returns the public key in
// authorized_keys form. The private key never leaves protected memory
// except inside the sealed record.
func (v *Vault) GenerateSSHKey(name string, policy Policy, skills []string, comment string) (string, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generating ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(privateKey, comment)
	if err != nil {
		return "", fmt.Errorf("encoding private key: %w", err)
	}
	// FromBytes zeros the heap copy of the PEM.
	buffer, err := secret.FromBytes(pem.EncodeToMemory(block))
	if err != nil {
		return "", fmt.Errorf("protecting private key: %w", err)
	}
	defer buffer.Close()

	if err := v.Store(name, KindSSHKey, policy, skills, buffer, false); err != nil {
		return "", err
	}

	sshPublic, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublic)))
	if comment != "" {
		authorized += " " + comment
	}
	return authorized, nil
}
