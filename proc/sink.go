// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import "fmt"

// Kind describes how the raw value of a channel slot is decoded.
type Kind uint8

const (
	Int32     Kind = iota // signed 32-bit word (default)
	Uint32                // unsigned 32-bit word
	Float32               // IEEE-754 32-bit word
	Uint2                 // 2-bit field, packed within a word
	Uint16                // 16-bit field, packed within a word
	LLRFAmp               // amplitude of an I/Q pair (same word as the next LLRFPhase)
	LLRFPhase             // phase of an I/Q pair, in degrees
)

func (k Kind) String() string {
	switch k {
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Uint2:
		return "uint2"
	case Uint16:
		return "uint16"
	case LLRFAmp:
		return "llrf-amp"
	case LLRFPhase:
		return "llrf-phase"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, error) {
	for k := Int32; k <= LLRFPhase; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("proc: unknown channel kind %q", s)
}

// span returns the number of bits a kind reads from its data word.
func (k Kind) span() uint {
	switch k {
	case Uint2:
		return 2
	case Uint16:
		return 16
	}
	return 32
}

// width returns the number of bits a kind consumes from its data word.
// An amplitude leaves its word to the phase that follows it.
func (k Kind) width() uint {
	if k == LLRFAmp {
		return 0
	}
	return k.span()
}

// ChannelSink receives the decoded statistics of one channel.
type ChannelSink interface {
	Kind() Kind
	Append(n uint32, mean, rms2 float64)
}

// ArraySink receives the decoded entries of one array.
type ArraySink interface {
	// Array returns the index of the array.
	Array() int
	// Reset clears the history and sets the timestamp of the acquisition.
	Reset(sec, nsec uint32)
	// Set updates the timestamp of the acquisition.
	Set(sec, nsec uint32)
	// Append appends the pulse id of one entry.
	Append(pulseID uint64)
	// Channels returns the channel sinks, in slot order.
	Channels() []ChannelSink
}
