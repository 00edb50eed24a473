// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package scan screens untrusted text and outbound destinations before
// they reach the model, the host, or the network.
//
// Three detector families share the package:
//
//   - [Scanner] matches text against a static, versioned table of
//     injection patterns across six categories (system-prompt override,
//     role confusion, secret extraction, jailbreak, tool-call
//     injection, command injection). Scanning is pure: the same input
//     and the same table always produce the same [Result].
//   - [LeakDetector] recognizes credential material (provider API keys,
//     tokens, private-key blocks) in text headed out of the boundary,
//     and can redact it.
//   - [Guard] validates outbound request destinations against
//     private/loopback/link-local/metadata address ranges, resolving
//     hostnames and re-validating at connect time through a dialer
//     control hook so DNS rebinding cannot swap in a private address
//     after the initial check.
//
// [Engine] turns detector output into a policy decision (Allow, Warn,
// Block, Sanitize) given a configured mode and sensitivity threshold.
// Sanitize requires a rewrite rule for every matched category; a match
// without one degrades the decision to Block. An optional secondary
// classifier sits behind a [Breaker] that opens after consecutive
// failures and falls back to pattern-only decisions.
//
// Pattern tables load from JSONC files ([LoadTable]) so operators can
// annotate rows; [Table.Version] is a blake3 hash of the canonical
// table encoding. Adding detection capability means adding rows, not
// changing control flow.
package scan
