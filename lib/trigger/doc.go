// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trigger is the Unix socket protocol between the build
// system's post-build hook and the push agent.
//
// Each connection carries exactly one request and one response, both
// single CBOR values:
//
//	request:  {action: "build-complete", derivation: "/nix/store/…drv", outputs: ["/nix/store/…"]}
//	response: {ok: true, data: {accepted: 1, deduplicated: 0, filtered: 0, rejected: 0}}
//
// A failed action answers {ok: false, error: "…"}. Besides
// build-complete the agent serves "status" (queue and counter
// snapshot) and "replay" (re-enqueue dead-lettered jobs).
//
// The build-complete handler only enqueues; it never waits for an
// upload, so the hook returns as soon as the agent has recorded the
// outputs.
package trigger
