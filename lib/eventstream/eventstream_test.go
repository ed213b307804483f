// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstream

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/cachepush/lib/testutil"
)

func TestMultiAndCounters(t *testing.T) {
	t.Parallel()

	first, second := NewCounters(), NewCounters()
	var seen []Kind
	sink := Multi{first, second, SinkFunc(func(event Event) { seen = append(seen, event.Kind) })}

	sink.Emit(Event{Kind: KindEnqueued})
	sink.Emit(Event{Kind: KindUploaded})
	sink.Emit(Event{Kind: KindEnqueued})

	if got := first.Get(KindEnqueued); got != 2 {
		t.Errorf("enqueued = %d, want 2", got)
	}
	snapshot := second.Snapshot()
	if snapshot[KindUploaded] != 1 || len(snapshot) != 2 {
		t.Errorf("snapshot = %v", snapshot)
	}
	if len(seen) != 3 || seen[1] != KindUploaded {
		t.Errorf("func sink saw %v", seen)
	}
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buffer, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	sink.Emit(Event{Kind: KindEnqueued, StorePath: "/nix/store/a"})
	sink.Emit(Event{Kind: KindDeadLettered, StorePath: "/nix/store/b", CacheName: "main", Reason: "exhausted", Attempts: 3})

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1 (enqueued is debug): %q", len(lines), buffer.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if record["level"] != "WARN" || record["msg"] != "job dead_lettered" {
		t.Errorf("record = %v", record)
	}
	if record["cache"] != "main" || record["reason"] != "exhausted" || record["attempts"] != float64(3) {
		t.Errorf("attributes = %v", record)
	}
}

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	t.Parallel()

	hub := NewHub(slog.New(slog.DiscardHandler))
	server := httptest.NewServer(NewMux(func() any { return map[string]int{"pending": 0} }, hub))
	defer server.Close()

	first := dialHub(t, server)
	second := dialHub(t, server)
	testutil.Eventually(t, 5*time.Second, func() bool { return hub.SubscriberCount() == 2 },
		"subscribers did not register")

	hub.Emit(Event{Kind: KindUploaded, StorePath: "/nix/store/a", CacheName: "main", UploadSize: 42})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if event.Kind != KindUploaded || event.StorePath != "/nix/store/a" || event.UploadSize != 42 {
			t.Errorf("event = %+v", event)
		}
	}

	first.Close()
	testutil.Eventually(t, 5*time.Second, func() bool { return hub.SubscriberCount() == 1 },
		"closed subscriber was not removed")

	hub.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("after Close, read error = %v, want going-away close", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(NewMux(func() any {
		return map[string]any{"pending": 3, "caches": []string{"main"}}
	}, nil))
	defer server.Close()

	response, err := http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", response.StatusCode)
	}
	body, _ := io.ReadAll(response.Body)
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
	if decoded["pending"] != float64(3) {
		t.Errorf("status = %v", decoded)
	}

	events, err := http.Get(server.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	events.Body.Close()
	if events.StatusCode != http.StatusNotFound {
		t.Errorf("/events without a hub = %d, want 404", events.StatusCode)
	}
}
