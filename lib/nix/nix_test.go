// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nix

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

const helloPath = "/nix/store/0c0zakgzqfvzmp0s5ysiqgvcqmf6lh9x-hello-2.12.1"

func TestFindBinaryNonexistent(t *testing.T) {
	t.Parallel()

	_, err := FindBinary("nix-definitely-does-not-exist-abcxyz")
	if err == nil {
		t.Fatal("expected error for nonexistent binary")
	}
	if !strings.Contains(err.Error(), "not found on PATH") {
		t.Errorf("error = %v, want error containing 'not found on PATH'", err)
	}
}

func TestStoreDirectory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "entry itself", input: helloPath, want: helloPath},
		{name: "file inside", input: helloPath + "/bin/hello", want: helloPath},
		{name: "trailing slash", input: helloPath + "/", want: helloPath},
		{name: "bare store", input: "/nix/store/", wantErr: true},
		{name: "outside store", input: "/usr/bin/hello", wantErr: true},
		{name: "prefix lookalike", input: "/nix/storefoo/abc", wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			got, err := StoreDirectory(testCase.input)
			if testCase.wantErr {
				if err == nil {
					t.Fatalf("StoreDirectory(%q) = %q, want error", testCase.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("StoreDirectory(%q): %v", testCase.input, err)
			}
			if got != testCase.want {
				t.Errorf("StoreDirectory(%q) = %q, want %q", testCase.input, got, testCase.want)
			}
		})
	}
}

func TestHashPartAndName(t *testing.T) {
	t.Parallel()

	hash, err := HashPart(helloPath)
	if err != nil {
		t.Fatalf("HashPart: %v", err)
	}
	if hash != "0c0zakgzqfvzmp0s5ysiqgvcqmf6lh9x" {
		t.Errorf("HashPart = %q", hash)
	}
	if name := Name(helloPath); name != "hello-2.12.1" {
		t.Errorf("Name = %q, want %q", name, "hello-2.12.1")
	}
	if name := Name("/tmp/plain"); name != "plain" {
		t.Errorf("Name(/tmp/plain) = %q, want %q", name, "plain")
	}

	for _, bad := range []string{
		"/nix/store/short-hello",
		"/nix/store/0c0zakgzqfvzmp0s5ysiqgvcqmf6lh9xhello",
		"/nix/store/0c0zakgzqfvzmp0s5ysiqgvcqmf6lh9e-hello",
	} {
		if _, err := HashPart(bad); err == nil {
			t.Errorf("HashPart(%q) succeeded, want error", bad)
		}
	}
}

func TestIsStorePath(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		helloPath:                  true,
		helloPath + "/bin/hello":   false,
		"/nix/store/abc-foo":       false,
		"/home/user/result":        false,
		"":                         false,
	}
	for input, want := range tests {
		if got := IsStorePath(input); got != want {
			t.Errorf("IsStorePath(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestDumpInvalidPath(t *testing.T) {
	t.Parallel()

	if _, err := FindBinary("nix-store"); err != nil {
		t.Skipf("nix-store not available: %v", err)
	}
	var output bytes.Buffer
	err := Dump(context.Background(), "/nix/store/00000000000000000000000000000000-absent", &output)
	if err == nil {
		t.Fatal("Dump of an absent path succeeded")
	}
	if !strings.Contains(err.Error(), "nix-store --dump") {
		t.Errorf("error = %v, want the command in the message", err)
	}
}
