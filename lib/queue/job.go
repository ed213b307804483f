// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"
	"time"
)

// Job is one store path destined for one cache.
type Job struct {
	StorePath    string    `cbor:"store_path" json:"store_path"`
	CacheName    string    `cbor:"cache" json:"cache"`
	DerivationID string    `cbor:"derivation,omitempty" json:"derivation,omitempty"`
	EnqueueTime  time.Time `cbor:"enqueued_at" json:"enqueued_at"`
	// Attempts counts failed upload attempts so far.
	Attempts int `cbor:"attempts" json:"attempts"`
}

// Key identifies a job for deduplication.
type Key struct {
	StorePath string
	CacheName string
}

// Key returns the job's deduplication key.
func (j Job) Key() Key {
	return Key{StorePath: j.StorePath, CacheName: j.CacheName}
}

func (k Key) String() string {
	return k.StorePath + " → " + k.CacheName
}

// Policy selects Enqueue behaviour when the queue is full.
type Policy int

const (
	// BlockUntilSpace waits up to the block timeout, then rejects.
	BlockUntilSpace Policy = iota
	// DropOldest evicts the job at the head of the queue.
	DropOldest
	// RejectNew refuses the new job.
	RejectNew
)

func (p Policy) String() string {
	switch p {
	case BlockUntilSpace:
		return "block"
	case DropOldest:
		return "drop_oldest"
	case RejectNew:
		return "reject"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts the configuration spellings block, drop_oldest,
// and reject.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "block", "":
		return BlockUntilSpace, nil
	case "drop_oldest":
		return DropOldest, nil
	case "reject":
		return RejectNew, nil
	}
	return 0, fmt.Errorf("unknown queue policy %q", name)
}

// Outcome is the result of Enqueue.
type Outcome int

const (
	Accepted Outcome = iota
	Deduplicated
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Deduplicated:
		return "deduplicated"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
