// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"context"
	"fmt"

	"github.com/gatehouse-project/gatehouse/audit"
	"github.com/gatehouse-project/gatehouse/lib/secret"
	"github.com/gatehouse-project/gatehouse/vault"
)

// SecretRequest identifies a credential and the requester's standing.
type SecretRequest struct {
	// Name is the credential id in the vault.
	Name string

	// Requester appears in the audit record; conventionally
	// "skill:<name>" or "operator".
	Requester string

	// SessionToken is the live auth session for with_auth credentials.
	SessionToken string

	// Skill is the requesting skill for skill_only credentials.
	Skill string

	// Approver handles with_approval credentials. The caller bounds
	// the approval wait through ctx.
	Approver vault.Approver

	// Reason is shown to the approver.
	Reason string
}

// GetSecret releases a credential under its access policy. The
// returned buffer must be Closed by the caller; closing zeroes the
// plaintext. Every outcome — grant or deny — produces an audit record
// that names the credential but never carries its value.
func (c *Coordinator) GetSecret(ctx context.Context, session string, request SecretRequest) (*secret.Buffer, error) {
	if c.vault == nil {
		return nil, fmt.Errorf("boundary: no vault configured")
	}

	value, err := c.vault.Get(ctx, request.Name, vault.GetOptions{
		SessionToken: request.SessionToken,
		Skill:        request.Skill,
		Approver:     request.Approver,
		Reason:       request.Reason,
	})

	detail := map[string]string{"credential": request.Name}
	if err != nil {
		detail["reason"] = err.Error()
		c.emit(ctx, session, "get_secret", request.Requester, "", 0, audit.ActionDeny, detail)
		return nil, err
	}
	c.emit(ctx, session, "get_secret", request.Requester, "", 0, audit.ActionGrant, detail)
	return value, nil
}
