// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds reads of HTTP bodies the agent does not
// control and classifies connection errors.
//
// Cache servers answer a failed push with a diagnostic body that ends
// up in logs and dead-letter records. ErrorBody caps how much of it is
// read so a misbehaving server cannot make the agent buffer an
// arbitrary amount of data.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// MaxErrorBody is the most of an error response body kept for
// diagnostics.
const MaxErrorBody int64 = 4 << 10

// MaxResponseSize bounds JSON API responses (probe metadata).
const MaxResponseSize int64 = 1 << 20

// ErrorBody reads up to MaxErrorBody bytes of body for an error
// message, trimmed of surrounding whitespace. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBody))
	return strings.TrimSpace(string(data))
}

// DecodeResponse JSON-decodes at most MaxResponseSize bytes of body.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// IsExpectedCloseError reports whether err is ordinary connection
// teardown: EOF, a closed connection, a broken pipe, or a reset.
// WebSocket subscribers disconnecting produce these routinely.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
