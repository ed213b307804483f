// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package selfguard stops a cache server from pushing into itself.
//
// A machine that serves a binary cache also builds, and its
// post-build hook would happily upload every output straight back to
// the cache it is hosting: at best wasted bandwidth, at worst a loop
// where substitution and upload feed each other. The agent checks its
// own host identity against the configured cache hosts once, before
// accepting any events, and refuses to start on a match.
package selfguard

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSelfUpload is wrapped by the ConfigurationError returned when
// the agent runs on one of the excluded hosts.
var ErrSelfUpload = errors.New("agent would upload to a cache hosted on this machine")

// ConfigurationError is a startup-fatal configuration problem.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsSelf reports whether host matches any entry in excluded.
// Comparison is case-insensitive and also matches on the short name
// (before the first dot), so "cache1" excludes "cache1.lan".
func IsSelf(host string, excluded []string) bool {
	host = normalize(host)
	if host == "" {
		return false
	}
	for _, candidate := range excluded {
		candidate = normalize(candidate)
		if candidate == "" {
			continue
		}
		if candidate == host || shortName(candidate) == shortName(host) {
			return true
		}
	}
	return false
}

// Check returns a *ConfigurationError wrapping ErrSelfUpload when
// host is excluded.
func Check(host string, excluded []string) error {
	if IsSelf(host, excluded) {
		return &ConfigurationError{
			Field: "excluded_hosts",
			Err:   fmt.Errorf("host %q: %w", host, ErrSelfUpload),
		}
	}
	return nil
}

// HostIdentity returns configured when non-empty, otherwise the
// kernel hostname.
func HostIdentity(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("determining hostname: %w", err)
	}
	return hostname, nil
}

func normalize(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

func shortName(host string) string {
	if dot := strings.IndexByte(host, '.'); dot != -1 {
		return host[:dot]
	}
	return host
}
