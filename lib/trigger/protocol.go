// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trigger

import "github.com/bureau-foundation/cachepush/lib/codec"

// Action names understood by the agent.
const (
	ActionBuildComplete = "build-complete"
	ActionStatus        = "status"
	ActionReplay        = "replay"
)

// Response is the envelope of every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// BuildComplete announces the outputs of one finished derivation.
type BuildComplete struct {
	Derivation string   `cbor:"derivation"`
	Outputs    []string `cbor:"outputs"`
}

// BuildCompleteResult counts what happened to each (output, cache)
// pair of a BuildComplete.
type BuildCompleteResult struct {
	Accepted     int `cbor:"accepted" json:"accepted"`
	Deduplicated int `cbor:"deduplicated" json:"deduplicated"`
	Filtered     int `cbor:"filtered" json:"filtered"`
	Rejected     int `cbor:"rejected" json:"rejected"`
}

// Replay asks the agent to re-enqueue dead-lettered jobs.
type Replay struct {
	// Cache limits the replay to one cache. Empty replays all.
	Cache string `cbor:"cache,omitempty"`

	// Limit caps the number of jobs. Zero means all.
	Limit int `cbor:"limit,omitempty"`
}

// ReplayResult reports a replay.
type ReplayResult struct {
	Replayed  int `cbor:"replayed" json:"replayed"`
	Remaining int `cbor:"remaining" json:"remaining"`
}
