// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// LeakSeverity grades how certainly a leak match is credential
// material.
type LeakSeverity int

const (
	LeakLow LeakSeverity = iota
	LeakMedium
	LeakHigh
	LeakCritical
)

// Score maps a severity to a risk score for the policy engine.
func (s LeakSeverity) Score() float64 {
	switch s {
	case LeakLow:
		return 0.25
	case LeakMedium:
		return 0.5
	case LeakHigh:
		return 0.75
	default:
		return 1.0
	}
}

func (s LeakSeverity) String() string {
	switch s {
	case LeakLow:
		return "low"
	case LeakMedium:
		return "medium"
	case LeakHigh:
		return "high"
	default:
		return "critical"
	}
}

// LeakMatch is one credential-shaped hit in outbound text.
type LeakMatch struct {
	Name     string
	Severity LeakSeverity
	Start    int
	End      int
}

// LeakResult is the outcome of a leak scan.
type LeakResult struct {
	Matches []LeakMatch
}

// Clean reports whether no credential material was found.
func (r LeakResult) Clean() bool { return len(r.Matches) == 0 }

// MaxSeverity returns the highest severity among the matches, or
// LeakLow for a clean result.
func (r LeakResult) MaxSeverity() LeakSeverity {
	max := LeakLow
	for _, match := range r.Matches {
		if match.Severity > max {
			max = match.Severity
		}
	}
	return max
}

// Names returns the distinct matched pattern names in match order.
func (r LeakResult) Names() []string {
	seen := make(map[string]bool, len(r.Matches))
	var names []string
	for _, match := range r.Matches {
		if !seen[match.Name] {
			seen[match.Name] = true
			names = append(names, match.Name)
		}
	}
	return names
}

type leakRule struct {
	name     string
	severity LeakSeverity
	regex    *regexp.Regexp
}

// LeakDetector recognizes credential material in text. The rule set is
// fixed at construction; scanning is pure.
type LeakDetector struct {
	rules []leakRule
}

// NewLeakDetector builds a detector with the built-in provider-key and
// private-key rules.
func NewLeakDetector() *LeakDetector {
	return &LeakDetector{rules: []leakRule{
		{"anthropic_api_key", LeakCritical, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{20,}\b`)},
		{"openai_api_key", LeakCritical, regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{20,}\b`)},
		{"github_token", LeakCritical, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)},
		{"aws_access_key", LeakHigh, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
		{"slack_token", LeakHigh, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`)},
		{"private_key_block", LeakCritical, regexp.MustCompile(`-----BEGIN (RSA|EC|OPENSSH|PGP|DSA|ED25519)? ?PRIVATE KEY( BLOCK)?-----`)},
		{"bearer_header", LeakMedium, regexp.MustCompile(`(?i)authorization:\s*bearer\s+[A-Za-z0-9\-._~+/]{16,}`)},
		{"generic_password_assignment", LeakLow, regexp.MustCompile(`(?i)\b(password|passwd|api[_-]?key|secret)\s*[:=]\s*\S{8,}`)},
	}}
}

// Scan finds credential-shaped content in text. Matches are ordered by
// position; at equal positions the longer match sorts first.
func (d *LeakDetector) Scan(text string) LeakResult {
	var result LeakResult
	for _, rule := range d.rules {
		for _, location := range rule.regex.FindAllStringIndex(text, -1) {
			result.Matches = append(result.Matches, LeakMatch{
				Name:     rule.name,
				Severity: rule.severity,
				Start:    location[0],
				End:      location[1],
			})
		}
	}
	sort.Slice(result.Matches, func(i, j int) bool {
		if result.Matches[i].Start != result.Matches[j].Start {
			return result.Matches[i].Start < result.Matches[j].Start
		}
		return result.Matches[i].End > result.Matches[j].End
	})
	return result
}

// Redact replaces every match in text with a [REDACTED:name] marker.
// Returns the redacted text and the scan result that drove it.
func (d *LeakDetector) Redact(text string) (string, LeakResult) {
	result := d.Scan(text)
	if result.Clean() {
		return text, result
	}

	// Overlapping matches (a provider-specific rule plus a generic one
	// on the same token) collapse to the first, which sorted longer.
	var spans []LeakMatch
	for _, match := range result.Matches {
		if len(spans) > 0 && match.Start < spans[len(spans)-1].End {
			continue
		}
		spans = append(spans, match)
	}

	// Replace from the end so earlier offsets stay valid.
	redacted := text
	for i := len(spans) - 1; i >= 0; i-- {
		match := spans[i]
		marker := fmt.Sprintf("[REDACTED:%s]", match.Name)
		redacted = redacted[:match.Start] + marker + redacted[match.End:]
	}
	return redacted, result
}

// ScanRequest checks an outbound request's URL, headers, and body for
// credential material. Returns the first failure description, or empty
// when clean.
func (d *LeakDetector) ScanRequest(url string, headers map[string]string, body []byte) (string, bool) {
	if result := d.Scan(url); !result.Clean() {
		return fmt.Sprintf("credential in URL: %s", strings.Join(result.Names(), ", ")), false
	}
	for name, value := range headers {
		if result := d.Scan(name + ": " + value); !result.Clean() {
			return fmt.Sprintf("credential in header %s: %s", name, strings.Join(result.Names(), ", ")), false
		}
	}
	if len(body) > 0 {
		if result := d.Scan(string(body)); !result.Clean() {
			return fmt.Sprintf("credential in body: %s", strings.Join(result.Names(), ", ")), false
		}
	}
	return "", true
}
