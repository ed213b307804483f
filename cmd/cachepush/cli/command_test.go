// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testTree(output *bytes.Buffer, ran *[]string) *Command {
	var limit int
	return &Command{
		Name:   "cachepush",
		Output: output,
		Subcommands: []*Command{{
			Name:    "deadletter",
			Summary: "dead letters",
			Subcommands: []*Command{{
				Name:    "list",
				Summary: "list them",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
					flagSet.IntVarP(&limit, "limit", "n", 0, "maximum records")
					return flagSet
				},
				Run: func(args []string) error {
					*ran = append(*ran, strings.Join(append([]string{"list"}, args...), " "))
					if limit > 0 {
						*ran = append(*ran, "limited")
					}
					return nil
				},
			}},
		}},
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name      string
		args      []string
		wantRan   []string
		wantError string
		wantHelp  string
	}
	tests := []testCase{
		{name: "dispatch", args: []string{"deadletter", "list", "extra"}, wantRan: []string{"list extra"}},
		{name: "flags", args: []string{"deadletter", "list", "-n", "3"}, wantRan: []string{"list", "limited"}},
		{name: "unknown command", args: []string{"deadleter"}, wantError: `unknown command "deadleter"`},
		{name: "unknown flag", args: []string{"deadletter", "list", "--bogus"}, wantError: "unknown flag: --bogus"},
		{name: "group without subcommand", args: []string{"deadletter"}, wantError: "subcommand required", wantHelp: "list"},
		{name: "help", args: []string{"deadletter", "list", "--help"}, wantHelp: "--limit"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var output bytes.Buffer
			var ran []string
			err := testTree(&output, &ran).Execute(test.args)
			switch {
			case test.wantError == "" && err != nil:
				t.Fatalf("Execute: %v", err)
			case test.wantError != "" && (err == nil || !strings.Contains(err.Error(), test.wantError)):
				t.Fatalf("Execute = %v, want error containing %q", err, test.wantError)
			}
			if strings.Join(ran, "|") != strings.Join(test.wantRan, "|") {
				t.Errorf("ran %q, want %q", ran, test.wantRan)
			}
			if test.wantHelp != "" && !strings.Contains(output.String(), test.wantHelp) {
				t.Errorf("help output missing %q:\n%s", test.wantHelp, output.String())
			}
		})
	}
}

func TestWriteJSONNilSlice(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	var records []string
	if err := WriteJSON(&output, records); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(output.String()); got != "[]" {
		t.Errorf("WriteJSON(nil slice) = %q, want []", got)
	}
}
