// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the Gatehouse-standard CBOR encoding.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Encoding the same logical value always produces identical bytes,
// which keeps vault-file checksums and audit records stable. The
// decoder accepts standard CBOR and silently ignores unknown fields for
// forward compatibility.
//
// Key exports:
//
//   - [Marshal] / [Unmarshal] -- byte-slice round trip
//   - [NewEncoder] / [NewDecoder] -- streaming variants
//
// Used by the vault (on-disk record envelope, export bundles) and the
// audit package (record payloads).
package codec
