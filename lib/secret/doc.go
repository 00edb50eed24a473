// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe container for sensitive data:
// vault master keys, decrypted credential payloads, and one-time-code
// seeds.
//
// [Buffer] allocates its backing memory outside the Go heap via
// mmap(MAP_ANONYMOUS), locks it into physical RAM with mlock so it can
// never be swapped to disk, and excludes it from core dumps with
// madvise(MADV_DONTDUMP). Close zeros the contents before unmapping,
// and is safe to defer on every exit path. Because the garbage
// collector never sees the region, it cannot copy or relocate the
// secret behind the program's back.
//
// Key exports:
//
//   - [New] / [FromBytes] -- allocate a protected buffer
//   - [Buffer.Bytes] / [Buffer.String] -- access the contents
//   - [Buffer.Equal] -- constant-time comparison
//   - [Buffer.Close] -- zero and release
//   - [Zero] -- scrub an ordinary byte slice in place
//
// Every credential value the vault hands out crosses this package; raw
// key material is never returned as a bare []byte.
package secret
