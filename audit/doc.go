// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records trust-boundary decisions.
//
// Every decision the boundary makes — scan verdicts, sandbox
// executions, credential accesses, outbound requests — produces one
// Record naming the operation, the category that triggered, the risk
// score, and the action taken. Records never carry scanned payloads or
// credential values; they describe the decision, not the data.
//
// Records within one session are stored in decision order. No ordering
// is defined across sessions.
//
// Key exports:
//   - Record: one decision, with a uuid id and a session id.
//   - Sink: where records go. Emit must be safe for concurrent use.
//   - LogSink: structured-log sink (slog), the default.
//   - Store: persistent SQLite sink with per-session queries.
//   - MultiSink: fan-out to several sinks.
package audit
