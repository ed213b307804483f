// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/sealed"
	"github.com/bureau-foundation/cachepush/lib/secret"
)

// ErrNoToken means no token is available for a cache.
var ErrNoToken = errors.New("no token available")

// Provider returns the current token for a cache. The caller owns the
// returned buffer and must Close it.
type Provider interface {
	Token(ctx context.Context, cacheName string) (*secret.Buffer, error)
}

// Reference schemes.
const (
	SchemeEnv    = "env"
	SchemeFile   = "file"
	SchemeSealed = "sealed"
)

// Reference is a parsed token reference such as "file:/run/token".
type Reference struct {
	Scheme   string
	Location string
}

func (r Reference) String() string { return r.Scheme + ":" + r.Location }

// ParseReference parses scheme:location.
func ParseReference(raw string) (Reference, error) {
	scheme, location, ok := strings.Cut(raw, ":")
	if !ok || location == "" {
		return Reference{}, fmt.Errorf("token reference %q is not scheme:location", raw)
	}
	switch scheme {
	case SchemeEnv, SchemeFile, SchemeSealed:
	default:
		return Reference{}, fmt.Errorf("token reference %q: unknown scheme %q (want env, file, or sealed)", raw, scheme)
	}
	return Reference{Scheme: scheme, Location: location}, nil
}

// Resolver is the configuration-backed Provider. It holds references
// only; every Token call reads the source again.
type Resolver struct {
	references map[string]Reference
	identity   *sealed.Identity
}

// NewResolver parses the token reference of every target. The age
// identity is loaded only when some target uses a sealed: reference.
func NewResolver(targets []config.CacheTarget, ageIdentity string) (*Resolver, error) {
	resolver := &Resolver{references: make(map[string]Reference, len(targets))}
	for _, target := range targets {
		reference, err := ParseReference(target.Token)
		if err != nil {
			return nil, fmt.Errorf("cache %q: %w", target.Name, err)
		}
		resolver.references[target.Name] = reference

		if reference.Scheme == SchemeSealed && resolver.identity == nil {
			if ageIdentity == "" {
				return nil, fmt.Errorf("cache %q: sealed token reference requires an age identity", target.Name)
			}
			identity, err := sealed.LoadIdentity(ageIdentity)
			if err != nil {
				return nil, err
			}
			resolver.identity = identity
		}
	}
	return resolver, nil
}

// Token implements Provider.
func (r *Resolver) Token(ctx context.Context, cacheName string) (*secret.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reference, ok := r.references[cacheName]
	if !ok {
		return nil, fmt.Errorf("cache %q has no token reference: %w", cacheName, ErrNoToken)
	}

	var (
		buffer *secret.Buffer
		err    error
	)
	switch reference.Scheme {
	case SchemeEnv:
		buffer, err = secret.FromEnvironment(reference.Location)
	case SchemeFile:
		buffer, err = secret.ReadFile(reference.Location)
	case SchemeSealed:
		buffer, err = r.identity.DecryptFile(reference.Location)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, secret.ErrEmpty) {
			return nil, fmt.Errorf("cache %q token %s: %w: %w", cacheName, reference, ErrNoToken, err)
		}
		return nil, fmt.Errorf("cache %q token %s: %w", cacheName, reference, err)
	}
	return buffer, nil
}

// Static serves fixed tokens by cache name. Names without an entry
// yield ErrNoToken.
type Static map[string]string

// Token implements Provider.
func (s Static) Token(ctx context.Context, cacheName string) (*secret.Buffer, error) {
	token, ok := s[cacheName]
	if !ok || token == "" {
		return nil, fmt.Errorf("cache %q: %w", cacheName, ErrNoToken)
	}
	return secret.NewFromBytes([]byte(token))
}
