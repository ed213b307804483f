// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used by the push
// agent: the trigger socket protocol between cachepush-hook and the
// agent, and the job payloads stored in the dead-letter database.
//
// Encoding is RFC 8949 Core Deterministic (sorted keys, shortest
// integers, definite lengths), so a dead-letter payload for the same
// job is byte-identical across runs. Decoding ignores unknown fields,
// letting an older hook talk to a newer agent.
//
// Structs carry `cbor:"..."` tags. Types that are also rendered as
// JSON (the operator CLI's --json output, the status endpoint) carry
// matching `json:"..."` tags; the two tag sets must agree on names.
package codec
