// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pathfilter

import "testing"

func TestAccept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		patterns   []string
		outputPath string
		derivation string
		want       bool
	}{
		{
			name:       "source derivation rejected by glob",
			patterns:   []string{"*-source.drv"},
			derivation: "/nix/store/0c0zakgzqfvzmp0s5ysiqgvcqmf6lh9x-hello-source.drv",
			want:       false,
		},
		{
			name:       "source derivation rejected by suffix",
			patterns:   []string{"-source.drv"},
			derivation: "/nix/store/0c0zakgzqfvzmp0s5ysiqgvcqmf6lh9x-hello-source.drv",
			want:       false,
		},
		{
			name:       "ordinary derivation accepted",
			patterns:   []string{"*-source.drv"},
			derivation: "myapp-1.0.drv",
			want:       true,
		},
		{
			name:       "output name suffix rejected",
			patterns:   []string{"-source"},
			outputPath: "/store/def-bar-source",
			want:       false,
		},
		{
			name:       "output without marker accepted",
			patterns:   []string{"-source"},
			outputPath: "/store/abc-foo",
			want:       true,
		},
		{
			name:       "temporary marker",
			patterns:   []string{"*.tmp.drv"},
			outputPath: "/nix/store/x-scratch",
			derivation: "/nix/store/x-scratch.tmp.drv",
			want:       false,
		},
		{
			name:       "malformed glob fails open",
			patterns:   []string{"[unterminated*"},
			derivation: "[unterminated-thing.drv",
			want:       true,
		},
		{
			name:       "no patterns",
			outputPath: "/nix/store/x-anything-source",
			want:       true,
		},
		{
			name:       "empty pattern ignored",
			patterns:   []string{""},
			outputPath: "/nix/store/x-anything",
			want:       true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			filter := New(testCase.patterns)
			got := filter.Accept(testCase.outputPath, testCase.derivation)
			if got != testCase.want {
				t.Errorf("Accept(%q, %q) with %v = %v, want %v",
					testCase.outputPath, testCase.derivation, testCase.patterns, got, testCase.want)
			}
		})
	}
}

func TestZeroValueAcceptsEverything(t *testing.T) {
	t.Parallel()

	var filter Filter
	if !filter.Accept("/nix/store/x-foo-source", "x-foo-source.drv") {
		t.Error("zero Filter rejected a path")
	}
}

func TestPatternsGrouping(t *testing.T) {
	t.Parallel()

	globs, suffixes := New([]string{"*-source.drv", "-tmp", "", "x?y"}).Patterns()
	if len(globs) != 2 || globs[0] != "*-source.drv" || globs[1] != "x?y" {
		t.Errorf("globs = %v", globs)
	}
	if len(suffixes) != 1 || suffixes[0] != "-tmp" {
		t.Errorf("suffixes = %v", suffixes)
	}
}
