// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Class partitions push and probe failures by how the worker pool
// must react to them.
type Class int

const (
	// Unauthorized: the cache refused the token. Not retried.
	Unauthorized Class = iota + 1
	// Unreachable: no response (DNS, connect, timeout). Retried.
	Unreachable
	// ServerError: the cache failed (5xx, throttling). Retried.
	ServerError
	// ClientError: the cache rejected the request itself (bad path,
	// payload too large). Not retried.
	ClientError
)

func (c Class) String() string {
	switch c {
	case Unauthorized:
		return "unauthorized"
	case Unreachable:
		return "unreachable"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Retryable reports whether another attempt could succeed without
// operator intervention.
func (c Class) Retryable() bool {
	return c == Unreachable || c == ServerError
}

// Error is the single error type returned by transports.
type Error struct {
	Class      Class
	Cache      string
	StatusCode int
	// Detail is a bounded excerpt of the cache's response body, or the
	// S3 error code.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	message := fmt.Sprintf("cache %q: %s", e.Cache, e.Class)
	if e.StatusCode != 0 {
		message += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		message += ": " + e.Detail
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the class sentinels, so callers can write
// errors.Is(err, cacheclient.ErrUnauthorized).
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	return ok && sentinel.Cache == "" && sentinel.Class == e.Class
}

// Class sentinels for errors.Is.
var (
	ErrUnauthorized = &Error{Class: Unauthorized}
	ErrUnreachable  = &Error{Class: Unreachable}
	ErrServerError  = &Error{Class: ServerError}
	ErrClientError  = &Error{Class: ClientError}
)

// ClassOf returns the class of err. Errors that did not come from a
// transport are reported as Unreachable, the conservative retryable
// class.
func ClassOf(err error) Class {
	var cacheError *Error
	if errors.As(err, &cacheError) {
		return cacheError.Class
	}
	return Unreachable
}

// ClassifyStatus maps an HTTP status to a failure class. ok is true
// for 2xx, which is not a failure.
//
// 408 and 429 are transient despite being 4xx and are treated as
// ServerError so they are retried with backoff.
func ClassifyStatus(statusCode int) (class Class, ok bool) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return 0, true
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return Unauthorized, false
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return ServerError, false
	case statusCode >= 400 && statusCode < 500:
		return ClientError, false
	case statusCode >= 500:
		return ServerError, false
	default:
		// 1xx and 3xx after redirects were followed: the server
		// answered but did not accept the upload.
		return ClientError, false
	}
}
