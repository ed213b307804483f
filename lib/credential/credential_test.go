// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"

	"github.com/bureau-foundation/cachepush/lib/config"
	"github.com/bureau-foundation/cachepush/lib/sealed"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func requireToken(t *testing.T, provider Provider, cacheName, want string) {
	t.Helper()
	buffer, err := provider.Token(context.Background(), cacheName)
	if err != nil {
		t.Fatalf("Token(%q): %v", cacheName, err)
	}
	defer buffer.Close()
	if got := buffer.String(); got != want {
		t.Errorf("Token(%q) = %q, want %q", cacheName, got, want)
	}
}

func TestParseReference(t *testing.T) {
	t.Parallel()

	for _, testCase := range []struct {
		raw     string
		want    Reference
		wantErr bool
	}{
		{raw: "env:CACHE_TOKEN", want: Reference{SchemeEnv, "CACHE_TOKEN"}},
		{raw: "file:/run/credentials/token", want: Reference{SchemeFile, "/run/credentials/token"}},
		{raw: "sealed:/etc/cachepush/main.age", want: Reference{SchemeSealed, "/etc/cachepush/main.age"}},
		{raw: "plain-token", wantErr: true},
		{raw: "env:", wantErr: true},
		{raw: "vault:secret/cache", wantErr: true},
	} {
		got, err := ParseReference(testCase.raw)
		if testCase.wantErr {
			if err == nil {
				t.Errorf("ParseReference(%q) = %v, want error", testCase.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseReference(%q): %v", testCase.raw, err)
			continue
		}
		if got != testCase.want {
			t.Errorf("ParseReference(%q) = %+v, want %+v", testCase.raw, got, testCase.want)
		}
	}
}

func TestResolverFileIsReadFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token")
	writeFile(t, path, "first\n")

	resolver, err := NewResolver([]config.CacheTarget{{Name: "main", Token: "file:" + path}}, "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	requireToken(t, resolver, "main", "first")

	writeFile(t, path, "rotated")
	requireToken(t, resolver, "main", "rotated")
}

func TestResolverEnvironment(t *testing.T) {
	t.Setenv("CACHEPUSH_TEST_TOKEN", "  from-env ")

	resolver, err := NewResolver([]config.CacheTarget{
		{Name: "main", Token: "env:CACHEPUSH_TEST_TOKEN"},
		{Name: "unset", Token: "env:CACHEPUSH_TEST_TOKEN_UNSET"},
	}, "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	requireToken(t, resolver, "main", "from-env")

	if _, err := resolver.Token(context.Background(), "unset"); !errors.Is(err, ErrNoToken) {
		t.Errorf("unset variable: %v, want ErrNoToken", err)
	}
}

func TestResolverMissingSources(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	empty := filepath.Join(directory, "empty")
	writeFile(t, empty, " \n")

	resolver, err := NewResolver([]config.CacheTarget{
		{Name: "missing", Token: "file:" + filepath.Join(directory, "absent")},
		{Name: "empty", Token: "file:" + empty},
	}, "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	for _, name := range []string{"missing", "empty", "unconfigured"} {
		if _, err := resolver.Token(context.Background(), name); !errors.Is(err, ErrNoToken) {
			t.Errorf("Token(%q) = %v, want ErrNoToken", name, err)
		}
	}
}

func TestResolverSealed(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	identityPath := filepath.Join(directory, "identity.txt")
	writeFile(t, identityPath, "# test key\n"+identity.String()+"\n")

	ciphertext, err := sealed.Encrypt([]byte("sealed-token\n"), []string{identity.Recipient().String()}, true)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tokenPath := filepath.Join(directory, "main.age")
	writeFile(t, tokenPath, string(ciphertext))

	targets := []config.CacheTarget{
		{Name: "main", Token: "sealed:" + tokenPath},
		{Name: "later", Token: "sealed:" + filepath.Join(directory, "later.age")},
	}
	if _, err := NewResolver(targets, ""); err == nil {
		t.Fatal("NewResolver accepted sealed references without an identity")
	}

	resolver, err := NewResolver(targets, identityPath)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	requireToken(t, resolver, "main", "sealed-token")

	if _, err := resolver.Token(context.Background(), "later"); !errors.Is(err, ErrNoToken) {
		t.Errorf("missing sealed file: %v, want ErrNoToken", err)
	}
}

func TestResolverCancelledContext(t *testing.T) {
	t.Parallel()

	resolver, err := NewResolver([]config.CacheTarget{{Name: "main", Token: "env:HOME"}}, "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := resolver.Token(ctx, "main"); !errors.Is(err, context.Canceled) {
		t.Errorf("Token with cancelled context = %v", err)
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	provider := Static{"main": "abc"}
	requireToken(t, provider, "main", "abc")
	if _, err := provider.Token(context.Background(), "other"); !errors.Is(err, ErrNoToken) {
		t.Errorf("Static missing entry = %v", err)
	}
}
