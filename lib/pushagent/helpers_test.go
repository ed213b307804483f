// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pushagent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/cachepush/lib/cacheclient"
	"github.com/bureau-foundation/cachepush/lib/clock"
	"github.com/bureau-foundation/cachepush/lib/deadletter"
	"github.com/bureau-foundation/cachepush/lib/eventstream"
)

var testEpoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// eventTimeout bounds waits on worker goroutines in real time.
const eventTimeout = 5 * time.Second

// fakeClient scripts push outcomes. respond receives the 1-based
// attempt number for the (path, cache) pair.
type fakeClient struct {
	mu      sync.Mutex
	pushes  map[string]int
	tokens  []string
	respond func(storePath string, attempt int) error

	// started, when set, receives "path cache" as each push begins.
	started chan string

	// release, when set, holds every push until it is closed or the
	// push context ends.
	release chan struct{}
}

func newFakeClient(respond func(storePath string, attempt int) error) *fakeClient {
	return &fakeClient{pushes: make(map[string]int), respond: respond}
}

func (f *fakeClient) Push(ctx context.Context, cacheName, storePath string, token []byte) (cacheclient.Ack, error) {
	key := storePath + " " + cacheName
	f.mu.Lock()
	f.pushes[key]++
	attempt := f.pushes[key]
	f.tokens = append(f.tokens, string(token))
	f.mu.Unlock()

	if f.started != nil {
		f.started <- key
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return cacheclient.Ack{}, &cacheclient.Error{Class: cacheclient.Unreachable, Cache: cacheName, Err: ctx.Err()}
		}
	}
	if f.respond != nil {
		if err := f.respond(storePath, attempt); err != nil {
			return cacheclient.Ack{}, err
		}
	}
	return cacheclient.Ack{CacheName: cacheName, StorePath: storePath, UploadSize: 128}, nil
}

func (f *fakeClient) Probe(ctx context.Context, cacheName string, token []byte) (cacheclient.ReachabilityInfo, error) {
	return cacheclient.ReachabilityInfo{CacheName: cacheName, Endpoint: "fake://" + cacheName}, nil
}

func (f *fakeClient) attempts(storePath, cacheName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[storePath+" "+cacheName]
}

func failWith(class cacheclient.Class) *cacheclient.Error {
	return &cacheclient.Error{Class: class, Cache: "main", Detail: "scripted " + class.String()}
}

// eventRecorder is a non-blocking sink backed by a large channel.
type eventRecorder struct {
	events chan eventstream.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan eventstream.Event, 1024)}
}

func (r *eventRecorder) Emit(event eventstream.Event) {
	select {
	case r.events <- event:
	default:
		panic("eventRecorder buffer full")
	}
}

// waitFor returns the next event of kind for storePath, discarding
// others.
func (r *eventRecorder) waitFor(t *testing.T, kind eventstream.Kind, storePath string) eventstream.Event {
	t.Helper()
	deadline := time.After(eventTimeout) //nolint:realclock test hang prevention
	for {
		select {
		case event := <-r.events:
			if event.Kind == kind && event.StorePath == storePath {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event for %s", kind, storePath)
		}
	}
}

func openStore(t *testing.T, fake *clock.FakeClock) *deadletter.Store {
	t.Helper()
	store, err := deadletter.Open(deadletter.Config{
		Path:  filepath.Join(t.TempDir(), "deadletter.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("opening dead-letter store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func listRecords(t *testing.T, store *deadletter.Store) []deadletter.Record {
	t.Helper()
	records, err := store.List(context.Background(), deadletter.ListOptions{})
	if err != nil {
		t.Fatalf("listing dead letters: %v", err)
	}
	return records
}

// halfRandom makes jitter a no-op: 1 + j*(2*0.5-1) = 1.
func halfRandom() float64 { return 0.5 }
