// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package entry describes the binary layout of BSA acquisition records,
// as they are written by the firmware into the carrier DRAM.
package entry // import "github.com/go-lpc/bsa/entry"

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// LayoutVersion identifies the on-wire layout of an Entry.
	// Any change to the layout must bump it.
	LayoutVersion = 1

	MaxChannels = 31                // number of channel slots per entry
	NumWords    = 3 + 3*MaxChannels // number of 32-bit words per entry
	Size        = 4 * NumWords      // size in bytes of an entry
	Elems       = Size / 8          // number of 64-bit memory elements per entry
)

// ChannelData holds the accumulated statistics of one channel.
//
//   - d0[12:0]  : number of accumulated samples
//   - d0[14:13] : arithmetic exception flags
//   - d0[15]    : fixed (raw, non-accumulated) value
//   - d0[31:16], d1[15:0]  : sum (or raw value)
//   - d1[31:16], d2[31:0]  : sum of squares
type ChannelData [3]uint32

// N returns the number of accumulated samples.
func (cd ChannelData) N() uint32 { return cd[0] & 0x1fff }

// Except returns the arithmetic exception flags.
func (cd ChannelData) Except() uint32 { return cd[0] & (3 << 13) }

// Fixed returns whether the channel holds a raw value.
func (cd ChannelData) Fixed() bool { return cd[0]&(1<<15) != 0 }

// Raw returns the raw 32-bit value of the channel.
func (cd ChannelData) Raw() uint32 { return (cd[0] >> 16) | (cd[1] << 16) }

func (cd ChannelData) sum() int32 {
	return int32(((cd[1] & 0xffff) << 16) | (cd[0] >> 16))
}

func (cd ChannelData) sum2() int64 {
	return int64(cd[2])<<16 | int64(cd[1]>>16)
}

// Mean returns the mean of the accumulated samples,
// the raw value for fixed channels or NaN.
func (cd ChannelData) Mean() float64 {
	switch {
	case cd.Fixed():
		return float64(cd.Raw())
	case cd.Except() == 0 && cd.N() > 0:
		return float64(cd.sum()) / float64(cd.N())
	default:
		return math.NaN()
	}
}

// RMS2 returns the sample variance of the accumulated samples,
// zero for fixed channels or NaN.
func (cd ChannelData) RMS2() float64 {
	if cd.Fixed() {
		return 0
	}
	n := cd.N()
	switch {
	case n == 0 || cd.Except() != 0:
		return math.NaN()
	case n == 1:
		return 0
	}
	var (
		nf  = float64(n)
		sum = float64(cd.sum())
		v   = float64(cd.sum2())
	)
	return (v - sum*sum/nf) / (nf - 1)
}

// Entry is one acquisition record.
type Entry struct {
	Header   [3]uint32
	Channels [MaxChannels]ChannelData
}

// NumChannels returns the number of channels declared by the header.
func (e *Entry) NumChannels() int { return int(e.Header[0] >> 16) }

// PulseID returns the pulse identifier of the entry.
func (e *Entry) PulseID() uint64 {
	return uint64(e.Header[2])<<32 | uint64(e.Header[1])
}

// SetPulseID sets the pulse identifier of the entry.
func (e *Entry) SetPulseID(id uint64) {
	e.Header[1] = uint32(id)
	e.Header[2] = uint32(id >> 32)
}

func (e *Entry) word(i int) uint32 {
	if i < 3 {
		return e.Header[i]
	}
	i -= 3
	return e.Channels[i/3][i%3]
}

func (e *Entry) setWord(i int, v uint32) {
	if i < 3 {
		e.Header[i] = v
		return
	}
	i -= 3
	e.Channels[i/3][i%3] = v
}

// Load decodes the entry from Elems little-endian memory elements.
func (e *Entry) Load(src []uint64) {
	_ = src[Elems-1]
	for k, v := range src[:Elems] {
		e.setWord(2*k, uint32(v))
		e.setWord(2*k+1, uint32(v>>32))
	}
}

// Store encodes the entry into Elems little-endian memory elements.
func (e *Entry) Store(dst []uint64) {
	_ = dst[Elems-1]
	for k := range dst[:Elems] {
		dst[k] = uint64(e.word(2*k)) | uint64(e.word(2*k+1))<<32
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (e *Entry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	for i := 0; i < NumWords; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], e.word(i))
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Entry) UnmarshalBinary(p []byte) error {
	if len(p) != Size {
		return fmt.Errorf("entry: invalid buffer size (got=%d, want=%d)", len(p), Size)
	}
	for i := 0; i < NumWords; i++ {
		e.setWord(i, binary.LittleEndian.Uint32(p[4*i:]))
	}
	return nil
}
