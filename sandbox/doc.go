// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox executes untrusted commands under filesystem and
// network confinement.
//
// Four backends implement the same contract, probed in order of
// decreasing strength: Landlock (Linux 5.13+, kernel-enforced path
// rules applied by a re-exec helper), bubblewrap (namespace isolation
// via the bwrap binary), Seatbelt (macOS sandbox-exec), and a
// path-validation fallback that checks the command against the profile
// before running it unconfined. Probing happens once; the selected
// backend is cached for the process lifetime. Asking for a specific
// backend that is unavailable is a hard error, never a silent
// downgrade.
//
// Every execution gets a fresh Profile value: profiles are built
// per-call from configuration plus per-tool overrides and never shared
// between runs. Commands run in their own process group; on deadline
// the whole group gets SIGTERM, then SIGKILL after the grace period,
// so orphaned children cannot outlive the run.
//
// Key exports:
//   - Profile, LoadProfiles: filesystem/network confinement
//     descriptions, YAML-defined.
//   - Backend, Select: the execution contract and probe-once backend
//     selection.
//   - Request, Output: one command run and its captured result.
package sandbox
