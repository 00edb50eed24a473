// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package boundary coordinates the trust boundary between an agent and
// the outside world. The Coordinator fronts four operations:
//
//   - ScanText: pattern scanners plus the policy engine, yielding a
//     decision. A scanner crash resolves to block, never to allow.
//   - Execute: command filter, per-tool sandbox profile, backend
//     execution, and a leak scan that redacts credential material from
//     captured output before the caller sees it.
//   - GetSecret: vault access under the credential's policy, with the
//     authentication challenge and approval flows wired through.
//   - Fetch: outbound HTTP with SSRF validation at parse time and
//     again at connect time, plus an exfiltration check on the request.
//
// Every decision emits one audit record carrying the category, score,
// action, and requester — never the payload.
//
// Key exports:
//   - Coordinator, Config, New.
//   - ExecuteRequest/ExecuteResult, FetchRequest/FetchResult.
//   - BlockedError: a typed refusal naming the operation and reason.
//   - CommandFilter: glob allow/block lists applied before execution.
package boundary
