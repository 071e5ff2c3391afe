// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sink holds consumers of decoded BSA entries.
package sink // import "github.com/go-lpc/bsa/sink"

import (
	"math"

	"github.com/go-lpc/bsa/proc"
	"gonum.org/v1/gonum/stat"
)

// DefaultHistory is the default number of entries kept by a Waveform.
const DefaultHistory = 1 << 15

// Waveform keeps in memory the last entries of one array.
type Waveform struct {
	array int
	max   int

	Sec    uint32
	Nsec   uint32
	Pulses []uint64

	chans []*Channel
	sinks []proc.ChannelSink
}

// NewWaveform creates a waveform for array i, with one channel per kind.
// A waveform keeps at most max entries; older entries are dropped first.
func NewWaveform(i int, max int, kinds ...proc.Kind) *Waveform {
	if max <= 0 {
		max = DefaultHistory
	}
	wf := &Waveform{
		array: i,
		max:   max,
		chans: make([]*Channel, len(kinds)),
		sinks: make([]proc.ChannelSink, len(kinds)),
	}
	for k, kind := range kinds {
		ch := &Channel{kind: kind, max: max}
		wf.chans[k] = ch
		wf.sinks[k] = ch
	}
	return wf
}

func (wf *Waveform) Array() int { return wf.array }

// Channel returns the k-th channel of the waveform.
func (wf *Waveform) Channel(k int) *Channel { return wf.chans[k] }

func (wf *Waveform) Reset(sec, nsec uint32) {
	wf.Sec = sec
	wf.Nsec = nsec
	wf.Pulses = wf.Pulses[:0]
	for _, ch := range wf.chans {
		ch.reset()
	}
}

func (wf *Waveform) Set(sec, nsec uint32) {
	wf.Sec = sec
	wf.Nsec = nsec
}

func (wf *Waveform) Append(id uint64) {
	wf.Pulses = trim(append(wf.Pulses, id), wf.max)
}

func (wf *Waveform) Channels() []proc.ChannelSink { return wf.sinks }

// Len returns the number of entries held by the waveform.
func (wf *Waveform) Len() int { return len(wf.Pulses) }

// Channel is the history of one channel of a waveform.
type Channel struct {
	kind proc.Kind
	max  int

	N    []uint32
	Mean []float64
	RMS2 []float64
}

func (ch *Channel) Kind() proc.Kind { return ch.kind }

func (ch *Channel) Append(n uint32, mean, rms2 float64) {
	ch.N = trim(append(ch.N, n), ch.max)
	ch.Mean = trim(append(ch.Mean, mean), ch.max)
	ch.RMS2 = trim(append(ch.RMS2, rms2), ch.max)
}

func (ch *Channel) reset() {
	ch.N = ch.N[:0]
	ch.Mean = ch.Mean[:0]
	ch.RMS2 = ch.RMS2[:0]
}

// Summary returns the mean and the sample variance of the valid means
// of the channel, together with the number of valid means.
// NaN means are skipped.
func (ch *Channel) Summary() (mean, variance float64, n int) {
	xs := make([]float64, 0, len(ch.Mean))
	for _, v := range ch.Mean {
		if math.IsNaN(v) {
			continue
		}
		xs = append(xs, v)
	}
	switch len(xs) {
	case 0:
		return math.NaN(), math.NaN(), 0
	case 1:
		return xs[0], 0, 1
	}
	mean, variance = stat.MeanVariance(xs, nil)
	return mean, variance, len(xs)
}

func trim[T any](vs []T, max int) []T {
	if len(vs) <= max {
		return vs
	}
	n := copy(vs, vs[len(vs)-max:])
	return vs[:n]
}

var (
	_ proc.ArraySink   = (*Waveform)(nil)
	_ proc.ChannelSink = (*Channel)(nil)
)
