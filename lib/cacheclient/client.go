// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cacheclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/bureau-foundation/cachepush/lib/clock"
	"github.com/bureau-foundation/cachepush/lib/config"
)

// Client pushes store paths to named caches.
type Client interface {
	Push(ctx context.Context, cacheName, storePath string, token []byte) (Ack, error)
	Probe(ctx context.Context, cacheName string, token []byte) (ReachabilityInfo, error)
}

// Ack describes an accepted upload.
type Ack struct {
	CacheName  string `json:"cache"`
	StorePath  string `json:"store_path"`
	StatusCode int    `json:"status_code,omitempty"`
	// NarHash is "blake3:<hex>" of the uncompressed archive.
	NarHash string `json:"nar_hash"`
	NarSize int64  `json:"nar_size"`
	// UploadSize is the number of body bytes sent.
	UploadSize int64 `json:"upload_size"`
	// Location is the object key (S3) or the request URL (HTTP).
	Location string `json:"location"`
}

// ReachabilityInfo is the result of a successful probe.
type ReachabilityInfo struct {
	CacheName  string        `json:"cache"`
	Endpoint   string        `json:"endpoint"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	// StoreDir is reported by HTTP caches that describe themselves.
	StoreDir string `json:"store_dir,omitempty"`
}

// transport is the per-target half of Client.
type transport interface {
	push(ctx context.Context, storePath string, token []byte) (Ack, error)
	probe(ctx context.Context, token []byte) (ReachabilityInfo, error)
}

// Options configures a Router. Zero values select production
// defaults.
type Options struct {
	// Archiver defaults to NixArchiver.
	Archiver Archiver

	// HTTPClient is shared by all HTTP targets. Defaults to a client
	// with no overall timeout; per-push deadlines come from ctx.
	HTTPClient *http.Client

	// SpoolDirectory holds payloads while they upload. Defaults to
	// os.TempDir().
	SpoolDirectory string

	// Clock measures probe latency.
	Clock clock.Clock

	Logger *slog.Logger
}

// Router dispatches by cache name. Immutable after construction and
// safe for concurrent use.
type Router struct {
	targets map[string]transport
	clock   clock.Clock
}

// NewRouter builds one transport per target.
func NewRouter(ctx context.Context, targets []config.CacheTarget, options Options) (*Router, error) {
	if options.Archiver == nil {
		options.Archiver = NixArchiver{}
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{}
	}
	if options.SpoolDirectory == "" {
		options.SpoolDirectory = os.TempDir()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	router := &Router{
		targets: make(map[string]transport, len(targets)),
		clock:   options.Clock,
	}
	for _, target := range targets {
		endpoint, err := url.Parse(target.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("cache %q: parsing endpoint: %w", target.Name, err)
		}
		var built transport
		switch endpoint.Scheme {
		case "http", "https":
			built = newHTTPTransport(target, endpoint, options)
		case "s3":
			built, err = newS3Transport(ctx, target, endpoint, options)
			if err != nil {
				return nil, fmt.Errorf("cache %q: %w", target.Name, err)
			}
		default:
			return nil, fmt.Errorf("cache %q: unsupported endpoint scheme %q", target.Name, endpoint.Scheme)
		}
		router.targets[target.Name] = built
		options.Logger.Debug("cache target configured",
			"cache", target.Name,
			"endpoint", target.Endpoint,
			"compression", target.Compression,
		)
	}
	return router, nil
}

// Push implements Client.
func (r *Router) Push(ctx context.Context, cacheName, storePath string, token []byte) (Ack, error) {
	target, err := r.lookup(cacheName)
	if err != nil {
		return Ack{}, err
	}
	return target.push(ctx, storePath, token)
}

// Probe implements Client.
func (r *Router) Probe(ctx context.Context, cacheName string, token []byte) (ReachabilityInfo, error) {
	target, err := r.lookup(cacheName)
	if err != nil {
		return ReachabilityInfo{}, err
	}
	started := r.clock.Now()
	info, err := target.probe(ctx, token)
	info.Latency = r.clock.Now().Sub(started)
	return info, err
}

// lookup fails with ClientError for unknown names, since retrying a
// job addressed to a cache that is not configured cannot help.
func (r *Router) lookup(cacheName string) (transport, error) {
	target, ok := r.targets[cacheName]
	if !ok {
		return nil, &Error{Class: ClientError, Cache: cacheName, Detail: "cache is not configured"}
	}
	return target, nil
}
