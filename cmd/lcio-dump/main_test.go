// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/bsa/proc"
	"github.com/go-lpc/bsa/sink"
)

func TestDump(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "bsa.lcio")

	f, err := sink.Create(fname, 1)
	if err != nil {
		t.Fatalf("could not create LCIO file: %+v", err)
	}

	var (
		a1 = f.Array(1, proc.Int32)
		a2 = f.Array(2, proc.Int32, proc.Float32)
	)
	a1.Reset(10, 0)
	a1.Append(1)
	a1.Channels()[0].Append(1, 1, 0)
	a2.Reset(1655901312, 42)
	a2.Append(0x42)
	a2.Channels()[0].Append(1, 3.5, 0)
	a2.Channels()[1].Append(1, math.NaN(), math.NaN())

	err = f.Close()
	if err != nil {
		t.Fatalf("could not close LCIO file: %+v", err)
	}

	for _, tc := range []struct {
		name  string
		array int
		mask  uint32
		want  string
	}{
		{
			name:  "array-2",
			array: 2,
			mask:  0x3,
			want: `=== evt 1 array 2 ===
pulse:  0x0000000000000042
time:   1655901312.000000042
  [ 0] n=   1 mean=3.5 rms2=0
  [ 1] n=   1 mean=NaN rms2=NaN
`,
		},
		{
			name:  "all-masked",
			array: -1,
			mask:  0x2,
			want: `=== evt 0 array 1 ===
pulse:  0x0000000000000001
time:   10.000000000
=== evt 1 array 2 ===
pulse:  0x0000000000000042
time:   1655901312.000000042
  [ 1] n=   1 mean=NaN rms2=NaN
`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o := new(strings.Builder)
			err := process(o, fname, tc.array, tc.mask)
			if err != nil {
				t.Fatalf("could not dump file: %+v", err)
			}
			if got, want := o.String(), tc.want; got != want {
				t.Fatalf("invalid dump:\ngot:\n%s\nwant:\n%s", got, want)
			}
		})
	}
}
