// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gatehouse-project/gatehouse/audit"
	"github.com/gatehouse-project/gatehouse/sandbox"
)

// ExecuteRequest describes one sandboxed command.
type ExecuteRequest struct {
	// Tool names the requesting tool; it selects the per-tool profile
	// overlay and command filter, and appears in the audit record.
	Tool string

	Command []string
	Stdin   []byte

	// Profile is an optional per-call overlay applied after the tool
	// overlay.
	Profile *sandbox.Profile

	Timeout     time.Duration
	GracePeriod time.Duration
}

// ExecuteResult is the outcome of a sandboxed command after the
// captured output passed the leak scan.
type ExecuteResult struct {
	Output sandbox.Output

	// Redacted reports whether credential material was replaced in
	// Stdout or Stderr.
	Redacted bool

	// LeakNames lists the leak rules that fired on the raw output.
	LeakNames []string
}

// Execute runs a command through the selected sandbox backend. The
// command filter runs first; the profile is assembled fresh for this
// call (base, then tool overlay, then request overlay) so concurrent
// executions never share profile state; captured output is scanned for
// credential material and leaking spans are replaced with placeholders
// before the result is returned.
func (c *Coordinator) Execute(ctx context.Context, session string, request ExecuteRequest) (ExecuteResult, error) {
	requester := "tool:" + request.Tool
	if c.backend == nil {
		return ExecuteResult{}, fmt.Errorf("boundary: no sandbox backend configured")
	}
	if len(request.Command) == 0 {
		return ExecuteResult{}, fmt.Errorf("boundary: empty command")
	}

	if err := c.checkCommand(request.Tool, request.Command); err != nil {
		c.emit(ctx, session, "execute", requester, "", 0, audit.ActionBlock, map[string]string{
			"command": request.Command[0],
			"reason":  err.Error(),
		})
		return ExecuteResult{}, &BlockedError{Operation: "execute", Reason: err.Error()}
	}

	profile := c.baseProfile.Clone()
	if overlay, ok := c.toolProfiles[request.Tool]; ok {
		profile = profile.Merge(overlay)
	}
	if request.Profile != nil {
		profile = profile.Merge(*request.Profile)
	}

	output, err := c.backend.Execute(ctx, sandbox.Request{
		Command:     request.Command,
		Profile:     profile,
		Stdin:       request.Stdin,
		Timeout:     request.Timeout,
		GracePeriod: request.GracePeriod,
	})
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("boundary: executing %s: %w", request.Command[0], err)
	}

	result := ExecuteResult{Output: output}

	stdout, stdoutLeaks := c.leaks.Redact(string(output.Stdout))
	stderr, stderrLeaks := c.leaks.Redact(string(output.Stderr))
	if !stdoutLeaks.Clean() || !stderrLeaks.Clean() {
		result.Output.Stdout = []byte(stdout)
		result.Output.Stderr = []byte(stderr)
		result.Redacted = true
		// A rule that fired on both streams is reported once.
		seen := make(map[string]bool)
		for _, name := range append(stdoutLeaks.Names(), stderrLeaks.Names()...) {
			if !seen[name] {
				seen[name] = true
				result.LeakNames = append(result.LeakNames, name)
			}
		}
	}

	action := audit.ActionAllow
	detail := map[string]string{
		"command": request.Command[0],
		"backend": c.backend.Name(),
	}
	score := 0.0
	if result.Redacted {
		action = audit.ActionRedact
		severity := stdoutLeaks.MaxSeverity()
		if stderrLeaks.MaxSeverity() > severity {
			severity = stderrLeaks.MaxSeverity()
		}
		score = severity.Score()
		detail["leaks"] = strings.Join(result.LeakNames, ",")
	}
	if output.TimedOut {
		detail["timed_out"] = "true"
	}
	c.emit(ctx, session, "execute", requester, "", score, action, detail)

	return result, nil
}

// checkCommand applies the tool's filter, falling back to the default
// filter.
func (c *Coordinator) checkCommand(tool string, command []string) error {
	filter := c.filter
	if toolFilter, ok := c.toolFilters[tool]; ok {
		filter = toolFilter
	}
	if filter == nil {
		return nil
	}
	return filter.Check(command)
}
