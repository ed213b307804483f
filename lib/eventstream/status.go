// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstream

import (
	"encoding/json"
	"net/http"
)

// NewMux serves GET /status with the JSON encoding of status() and
// GET /events from hub. A nil hub omits /events.
func NewMux(status func() any, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	if hub != nil {
		mux.Handle("GET /events", hub)
	}
	return mux
}
