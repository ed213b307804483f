// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ErrEmpty is returned when a secret source exists but holds nothing
// other than whitespace.
var ErrEmpty = errors.New("secret is empty")

// ReadFile reads a secret from path with surrounding whitespace
// trimmed. Every heap byte read from the file is zeroed before
// return. A missing file surfaces as an error satisfying
// errors.Is(err, fs.ErrNotExist).
func ReadFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer Zero(data)
	return fromTrimmed(data, path)
}

// FromEnvironment reads a secret from the named environment variable.
// The variable's heap string cannot be scrubbed; callers that need
// that guarantee use ReadFile.
func FromEnvironment(name string) (*Buffer, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("environment variable %s: %w", name, os.ErrNotExist)
	}
	data := []byte(value)
	defer Zero(data)
	return fromTrimmed(data, "$"+name)
}

func fromTrimmed(data []byte, source string) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrEmpty)
	}
	return NewFromBytes(trimmed)
}
