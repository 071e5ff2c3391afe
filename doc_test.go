// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bsa

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	for _, tc := range []struct {
		name    string
		b       *debug.BuildInfo
		version string
		sum     string
	}{
		{name: "nil"},
		{
			name: "no-dep",
			b:    &debug.BuildInfo{},
		},
		{
			name: "plain",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: "github.com/go-daq/tdaq", Version: "v0.14.2", Sum: "h1:tdaq"},
				{Path: "github.com/go-lpc/bsa", Version: "v0.2.0", Sum: "h1:bsa"},
			}},
			version: "v0.2.0",
			sum:     "h1:bsa",
		},
		{
			name: "replace-path-version",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{
					Path: "github.com/go-lpc/bsa", Version: "v0.2.0",
					Replace: &debug.Module{Path: "example.org/bsa", Version: "v0.3.0", Sum: "h1:rep"},
				},
			}},
			version: "example.org/bsa v0.3.0",
			sum:     "h1:rep",
		},
		{
			name: "replace-local",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{
					Path: "github.com/go-lpc/bsa", Version: "v0.2.0",
					Replace: &debug.Module{},
				},
			}},
			version: "v0.2.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			version, sum := versionOf(tc.b)
			if got, want := version, tc.version; got != want {
				t.Fatalf("invalid version: got=%q, want=%q", got, want)
			}
			if got, want := sum, tc.sum; got != want {
				t.Fatalf("invalid sum: got=%q, want=%q", got, want)
			}
		})
	}
}
