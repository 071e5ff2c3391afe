// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"math"
	"testing"

	"github.com/go-lpc/bsa/entry"
)

type fakeChan struct {
	kind Kind
	n    []uint32
	mean []float64
	rms2 []float64
}

func (ch *fakeChan) Kind() Kind { return ch.kind }
func (ch *fakeChan) Append(n uint32, mean, rms2 float64) {
	ch.n = append(ch.n, n)
	ch.mean = append(ch.mean, mean)
	ch.rms2 = append(ch.rms2, rms2)
}

func fixed(raw uint32) entry.ChannelData {
	return entry.ChannelData{1<<15 | (raw&0xffff)<<16, raw >> 16, 0}
}

func same(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) < 1e-12
}

func TestDecoder(t *testing.T) {
	var e entry.Entry
	e.Channels[0] = fixed(0xffffffff)
	e.Channels[1] = fixed(0xffffffff)
	e.Channels[2] = fixed(math.Float32bits(1.5))
	e.Channels[3] = fixed(0x1234<<8 | 0b11_10_01_00)
	e.Channels[4] = fixed(0xbeef)
	e.Channels[5] = fixed(4<<16 | 0xfffd) // I=-3, Q=4
	e.Channels[6] = entry.ChannelData{2 | 10<<16, 0, 0}
	e.Channels[7] = entry.ChannelData{2 | 10<<16, 0, 0}
	e.Channels[8] = entry.ChannelData{2 | 10<<16, 0, 0}

	var (
		i32  = &fakeChan{kind: Int32}
		u32  = &fakeChan{kind: Uint32}
		f32  = &fakeChan{kind: Float32}
		u2s  = []*fakeChan{{kind: Uint2}, {kind: Uint2}, {kind: Uint2}, {kind: Uint2}}
		u16a = &fakeChan{kind: Uint16}
		u16b = &fakeChan{kind: Uint16}
		amp  = &fakeChan{kind: LLRFAmp}
		pha  = &fakeChan{kind: LLRFPhase}
		acc  = &fakeChan{kind: Int32}
		u16c = &fakeChan{kind: Uint16}
		iqa  = &fakeChan{kind: LLRFAmp}
		iqp  = &fakeChan{kind: LLRFPhase}
	)
	sinks := []ChannelSink{i32, u32, f32}
	for _, ch := range u2s {
		sinks = append(sinks, ch)
	}
	sinks = append(sinks, u16a, u16b, amp, pha, acc, u16c, iqa, iqp)

	var dec decoder
	dec.decode(&e, sinks)

	for _, tc := range []struct {
		name string
		ch   *fakeChan
		n    uint32
		mean float64
		rms2 float64
	}{
		{"int32", i32, 0, -1, 0},
		{"uint32", u32, 0, math.MaxUint32, 0},
		{"float32", f32, 0, 1.5, 0},
		{"uint2-0", u2s[0], 0, 0, 0},
		{"uint2-1", u2s[1], 0, 1, 0},
		{"uint2-2", u2s[2], 0, 2, 0},
		{"uint2-3", u2s[3], 0, 3, 0},
		{"uint16-packed", u16a, 0, 0x1234, 0},
		{"uint16-aligned", u16b, 0, 0xbeef, 0},
		{"llrf-amp", amp, 0, 5, 0},
		{"llrf-phase", pha, 0, math.Atan2(4, -3) * 180 / math.Pi, 0},
		{"accumulated", acc, 2, 5, math.NaN()},
		{"uint16-accumulated", u16c, 2, math.NaN(), math.NaN()},
		{"llrf-amp-accumulated", iqa, 2, math.NaN(), math.NaN()},
		{"llrf-phase-accumulated", iqp, 2, math.NaN(), math.NaN()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := len(tc.ch.n), 1; got != want {
				t.Fatalf("invalid number of values: got=%d, want=%d", got, want)
			}
			if got, want := tc.ch.n[0], tc.n; got != want {
				t.Fatalf("invalid n: got=%d, want=%d", got, want)
			}
			if got, want := tc.ch.mean[0], tc.mean; !same(got, want) {
				t.Fatalf("invalid mean: got=%v, want=%v", got, want)
			}
			if tc.name == "accumulated" {
				return
			}
			if got, want := tc.ch.rms2[0], tc.rms2; !same(got, want) {
				t.Fatalf("invalid rms2: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestDecoderAlignment(t *testing.T) {
	var e entry.Entry
	e.Channels[0] = fixed(0b10)
	e.Channels[1] = fixed(7)

	var (
		u2  = &fakeChan{kind: Uint2}
		i32 = &fakeChan{kind: Int32}
	)

	// a decoder is reset for every entry, so a partially consumed word
	// never leaks into the next entry or array.
	var dec decoder
	for i := 0; i < 2; i++ {
		dec.decode(&e, []ChannelSink{u2, i32})
	}
	for i := 0; i < 2; i++ {
		if got, want := u2.mean[i], 2.0; got != want {
			t.Fatalf("invalid uint2[%d]: got=%v, want=%v", i, got, want)
		}
		if got, want := i32.mean[i], 7.0; got != want {
			t.Fatalf("invalid int32[%d]: got=%v, want=%v", i, got, want)
		}
	}

	sinks := make([]ChannelSink, entry.MaxChannels+1)
	chans := make([]*fakeChan, len(sinks))
	for i := range sinks {
		chans[i] = &fakeChan{kind: Int32}
		sinks[i] = chans[i]
	}
	dec.decode(&e, sinks)
	last := chans[entry.MaxChannels]
	if last.n[0] != 0 || !math.IsNaN(last.mean[0]) || !math.IsNaN(last.rms2[0]) {
		t.Fatalf("invalid out-of-entry channel: %+v", last)
	}
}

func TestKind(t *testing.T) {
	for k := Int32; k <= LLRFPhase; k++ {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("could not parse %q: %+v", k, err)
		}
		if got != k {
			t.Fatalf("invalid kind: got=%v, want=%v", got, k)
		}
	}
	_, err := ParseKind("int64")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := Kind(42).String(), "Kind(42)"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
}
