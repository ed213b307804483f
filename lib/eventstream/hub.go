// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstream

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/cachepush/lib/netutil"
)

const (
	// subscriberBuffer is how many events may queue for one slow
	// subscriber before further events are dropped for it.
	subscriberBuffer = 256

	writeTimeout = 10 * time.Second
)

// Hub broadcasts events to WebSocket subscribers. It implements Sink
// and http.Handler.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool

	dropped atomic.Int64
}

type subscriber struct {
	conn   *websocket.Conn
	events chan Event
}

// NewHub returns a Hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			// The status listener is bound to an operator-chosen
			// address; browsers are not the expected client.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Emit implements Sink. A subscriber whose buffer is full misses the
// event.
func (h *Hub) Emit(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug("event stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sub := &subscriber{conn: conn, events: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Info("event stream subscriber connected", "remote", r.RemoteAddr, "subscribers", count)

	// Subscribers never send; reading only detects disconnects.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !netutil.IsExpectedCloseError(err) &&
					websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Debug("event stream read failed", "remote", r.RemoteAddr, "error", err)
				}
				return
			}
		}
	}()

	defer func() {
		h.remove(sub)
		conn.Close()
		h.logger.Info("event stream subscriber disconnected", "remote", r.RemoteAddr)
	}()
	for {
		select {
		case event, ok := <-sub.events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					h.logger.Warn("event stream write failed", "remote", r.RemoteAddr, "error", err)
				}
				return
			}
		case <-disconnected:
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.events)
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped returns how many subscriber deliveries were skipped because
// a buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.events)
	}
}
