// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cachepush/cmd/cachepush/cli"
	"github.com/bureau-foundation/cachepush/lib/sealed"
	"github.com/bureau-foundation/cachepush/lib/secret"
)

// maxTokenSize bounds what seal reads from stdin.
const maxTokenSize = 64 << 10

func tokenCommand(streams IO) *cli.Command {
	return &cli.Command{
		Name:    "token",
		Summary: "Manage cache tokens",
		Subcommands: []*cli.Command{
			tokenSealCommand(streams),
		},
	}
}

func tokenSealCommand(streams IO) *cli.Command {
	var recipients []string
	var outputPath string
	var binary bool
	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt a token from stdin for a sealed: reference",
		Description: "Seal reads a token on stdin and encrypts it to one or more age recipients.\n" +
			"Reference the result from a cache target as token: sealed:/path/to/file.age\n" +
			"and point credentials.age_identity at the matching identity file.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "age1 recipient public key (repeatable)")
			flagSet.StringVarP(&outputPath, "output", "o", "", "write to this file (mode 0600) instead of stdout")
			flagSet.BoolVar(&binary, "binary", false, "write binary age output instead of ASCII armor")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Seal an S3 key pair for the build fleet's identity",
				Command:     "printf '%s:%s' \"$AKID\" \"$SECRET\" | cachepush token seal -r age1... -o /etc/cachepush/s3.age",
			},
		},
		Run: func(args []string) error {
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			data, err := io.ReadAll(io.LimitReader(streams.Stdin, maxTokenSize+1))
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			defer secret.Zero(data)
			if len(data) > maxTokenSize {
				return fmt.Errorf("token on stdin exceeds %d bytes", maxTokenSize)
			}
			token := bytes.TrimSpace(data)
			if len(token) == 0 {
				return fmt.Errorf("no token on stdin")
			}

			ciphertext, err := sealed.Encrypt(token, recipients, !binary)
			if err != nil {
				return err
			}
			if outputPath == "" {
				_, err := streams.Stdout.Write(ciphertext)
				return err
			}
			if err := os.WriteFile(outputPath, ciphertext, 0o600); err != nil {
				return err
			}
			streams.Logger.Info("sealed token written", "path", outputPath, "recipients", len(recipients))
			return nil
		},
	}
}
