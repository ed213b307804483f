// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nix provides store path parsing and the nix-store
// invocations the push agent needs to serialize a store path for
// upload.
//
// Binaries are resolved from PATH first (NixOS, nix develop) and then
// from the Determinate Nix profile directory, which installers leave
// off PATH for system services.
package nix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const determinateProfileBin = "/nix/var/nix/profiles/default/bin"

// StorePrefix is the store root every accepted path must live under.
const StorePrefix = "/nix/store/"

// hashPartLength is the length of the base-32 digest that starts
// every store entry name.
const hashPartLength = 32

// FindBinary resolves a Nix binary by name.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	determinatePath := filepath.Join(determinateProfileBin, name)
	if _, err := os.Stat(determinatePath); err == nil {
		return determinatePath, nil
	}
	return "", fmt.Errorf("%s not found on PATH or at %s", name, determinatePath)
}

// StoreDirectory reduces a path inside the store to its top-level
// store entry:
//
//	"/nix/store/abc-hello-2.12/bin/hello" → "/nix/store/abc-hello-2.12"
func StoreDirectory(path string) (string, error) {
	if !strings.HasPrefix(path, StorePrefix) {
		return "", fmt.Errorf("path %q is not under %s", path, StorePrefix)
	}
	remainder := path[len(StorePrefix):]
	if remainder == "" {
		return "", fmt.Errorf("path %q has no store entry name", path)
	}
	if slash := strings.IndexByte(remainder, '/'); slash != -1 {
		return path[:len(StorePrefix)+slash], nil
	}
	return path, nil
}

// IsStorePath reports whether path names a top-level store entry with
// a well-formed hash part.
func IsStorePath(path string) bool {
	directory, err := StoreDirectory(path)
	if err != nil || directory != path {
		return false
	}
	_, err = HashPart(path)
	return err == nil
}

// HashPart returns the 32-character digest prefix of a store path's
// entry name ("/nix/store/abc…-hello" → "abc…").
func HashPart(storePath string) (string, error) {
	entry := strings.TrimPrefix(storePath, StorePrefix)
	if len(entry) < hashPartLength+2 || entry[hashPartLength] != '-' {
		return "", fmt.Errorf("store path %q has no hash part", storePath)
	}
	hash := entry[:hashPartLength]
	for _, character := range hash {
		if !isNixBase32(character) {
			return "", fmt.Errorf("store path %q has invalid hash character %q", storePath, character)
		}
	}
	return hash, nil
}

// Name returns the entry name after the hash part
// ("/nix/store/abc…-hello-2.12" → "hello-2.12"). Paths without a hash
// part yield their base name.
func Name(storePath string) string {
	base := filepath.Base(storePath)
	if len(base) > hashPartLength+1 && base[hashPartLength] == '-' {
		return base[hashPartLength+1:]
	}
	return base
}

// Nix base-32 omits e, o, u, and t.
func isNixBase32(character rune) bool {
	switch {
	case character >= '0' && character <= '9':
		return true
	case character >= 'a' && character <= 'z':
		return character != 'e' && character != 'o' && character != 'u' && character != 't'
	}
	return false
}

// Dump streams the NAR serialization of storePath to w using
// "nix-store --dump". The stream is written as it is produced, so
// large outputs are never held in memory.
func Dump(ctx context.Context, storePath string, w io.Writer) error {
	binaryPath, err := FindBinary("nix-store")
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, binaryPath, "--dump", storePath)
	command.Stdout = w
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return formatError("nix-store", []string{"--dump", storePath}, &stderr, err)
	}
	return nil
}

// RunStore executes "nix-store <args>" and returns stdout.
func RunStore(ctx context.Context, args ...string) (string, error) {
	binaryPath, err := FindBinary("nix-store")
	if err != nil {
		return "", err
	}
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, binaryPath, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", formatError("nix-store", args, &stderr, err)
	}
	return stdout.String(), nil
}

// IsValid asks the local store whether storePath is a valid, fully
// realised path. Hooks occasionally report outputs that a concurrent
// garbage collection has already removed.
func IsValid(ctx context.Context, storePath string) (bool, error) {
	binaryPath, err := FindBinary("nix-store")
	if err != nil {
		return false, err
	}
	command := exec.CommandContext(ctx, binaryPath, "--check-validity", storePath)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	err = command.Run()
	if err == nil {
		return true, nil
	}
	if exitError, ok := err.(*exec.ExitError); ok && exitError.ExitCode() == 1 {
		return false, nil
	}
	return false, formatError("nix-store", []string{"--check-validity", storePath}, &stderr, err)
}

// formatError prefers nix's own stderr diagnostics over the bare
// exit status.
func formatError(binaryName string, args []string, stderr *bytes.Buffer, err error) error {
	commandString := binaryName + " " + strings.Join(args, " ")
	if stderrText := strings.TrimSpace(stderr.String()); stderrText != "" {
		return fmt.Errorf("%s: %s", commandString, stderrText)
	}
	return fmt.Errorf("%s: %w", commandString, err)
}
