// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/cachepush/lib/secret"
)

// Identity is a parsed set of age identities loaded from an identity
// file. It is safe for concurrent use.
type Identity struct {
	identities []age.Identity
	path       string
}

// LoadIdentity parses the age identity file at path. The file may
// hold several AGE-SECRET-KEY-1 lines and # comments, as written by
// age-keygen.
func LoadIdentity(path string) (*Identity, error) {
	buffer, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading age identity %s: %w", path, err)
	}
	defer buffer.Close()

	identities, err := age.ParseIdentities(bytes.NewReader(buffer.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity %s: %w", path, err)
	}
	return &Identity{identities: identities, path: path}, nil
}

// Path returns the file the identity was loaded from.
func (i *Identity) Path() string { return i.path }

// DecryptFile decrypts the age file at path. A missing file surfaces
// as an error satisfying errors.Is(err, fs.ErrNotExist). Leading and
// trailing whitespace in the plaintext is trimmed.
func (i *Identity) DecryptFile(path string) (*secret.Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buffered := bufio.NewReader(file)
	var source io.Reader = buffered
	if isArmored(buffered) {
		source = armor.NewReader(buffered)
	}

	reader, err := age.Decrypt(source, i.identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading plaintext of %s: %w", path, err)
	}
	defer secret.Zero(plaintext)

	trimmed := bytes.TrimSpace(plaintext)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s: %w", path, secret.ErrEmpty)
	}
	return secret.NewFromBytes(trimmed)
}

// Encrypt seals plaintext to the given age1 recipients. With armored
// set the output is PEM-style text suitable for configuration
// repositories.
func Encrypt(plaintext []byte, recipientKeys []string, armored bool) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var output bytes.Buffer
	var sink io.Writer = &output
	var armorWriter io.WriteCloser
	if armored {
		armorWriter = armor.NewWriter(&output)
		sink = armorWriter
	}

	writer, err := age.Encrypt(sink, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	if armorWriter != nil {
		if err := armorWriter.Close(); err != nil {
			return nil, fmt.Errorf("finalizing armor: %w", err)
		}
	}
	return output.Bytes(), nil
}

func isArmored(reader *bufio.Reader) bool {
	header, _ := reader.Peek(len(armor.Header))
	return string(header) == armor.Header
}
