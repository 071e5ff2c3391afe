// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"math"

	"github.com/go-lpc/bsa/entry"
)

// decoder walks the data words of one entry, handing out sub-word
// fields to the channel sinks.
// A decoder is reset for every entry and never shared across arrays.
type decoder struct {
	word int  // current data word
	bit  uint // bit offset within the current data word
}

func (dec *decoder) reset() {
	dec.word = 0
	dec.bit = 0
}

// align moves to the next word if a field of width w does not fit
// in what remains of the current one.
func (dec *decoder) align(w uint) {
	if dec.bit != 0 && dec.bit+w > 32 {
		dec.word++
		dec.bit = 0
	}
}

func (dec *decoder) advance(w uint) {
	dec.bit += w
	if dec.bit >= 32 {
		dec.word++
		dec.bit = 0
	}
}

// decode forwards the channels of e to the sinks.
func (dec *decoder) decode(e *entry.Entry, sinks []ChannelSink) {
	dec.reset()
	for _, sink := range sinks {
		kind := sink.Kind()
		dec.align(kind.span())
		if dec.word >= entry.MaxChannels {
			sink.Append(0, math.NaN(), math.NaN())
			continue
		}
		cd := e.Channels[dec.word]
		n := cd.N()

		switch kind {
		case Int32:
			mean := cd.Mean()
			if cd.Fixed() {
				mean = float64(int32(cd.Raw()))
			}
			sink.Append(n, mean, cd.RMS2())

		case Uint32:
			sink.Append(n, cd.Mean(), cd.RMS2())

		case Float32:
			mean := cd.Mean()
			if cd.Fixed() {
				mean = float64(math.Float32frombits(cd.Raw()))
			}
			sink.Append(n, mean, cd.RMS2())

		case Uint2, Uint16:
			w := kind.width()
			mean, rms2 := math.NaN(), math.NaN()
			if cd.Fixed() {
				mean = float64((cd.Raw() >> dec.bit) & (1<<w - 1))
				rms2 = 0
			}
			sink.Append(n, mean, rms2)

		case LLRFAmp, LLRFPhase:
			i, q := iq(cd)
			var v float64
			switch kind {
			case LLRFAmp:
				v = math.Sqrt(i*i + q*q)
			default:
				v = math.Atan2(q, i) * 180 / math.Pi
			}
			rms2 := 0.0
			if math.IsNaN(v) {
				rms2 = math.NaN()
			}
			sink.Append(n, v, rms2)
		}

		dec.advance(kind.width())
	}
}

// iq returns the in-phase and quadrature components packed as two
// signed 16-bit values in a fixed channel, or NaNs.
func iq(cd entry.ChannelData) (i, q float64) {
	if !cd.Fixed() {
		return math.NaN(), math.NaN()
	}
	raw := cd.Raw()
	return float64(int16(raw)), float64(int16(raw >> 16))
}
