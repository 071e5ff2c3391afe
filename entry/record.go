// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package entry

import (
	"fmt"
	"io"
)

// Record is the result of one fetch from a BSA array.
//
// Records handed out by fetchers are borrowed: their content is only
// valid until the next fetch performed by the same owner.
type Record struct {
	Array   int    // index of the array the entries were read from
	Secs    uint32 // latched timestamp, seconds
	Nsecs   uint32 // latched timestamp, nanoseconds
	Entries []Entry

	raw []uint64
}

// NewRecord returns a record able to hold n entries without allocating.
func NewRecord(n int) *Record {
	return &Record{
		Entries: make([]Entry, 0, n),
		raw:     make([]uint64, n*Elems),
	}
}

// Cap returns the number of entries the record can hold without allocating.
func (rec *Record) Cap() int { return cap(rec.Entries) }

// Reset empties the record and attaches it to the provided array.
func (rec *Record) Reset(array int) {
	rec.Array = array
	rec.Secs = 0
	rec.Nsecs = 0
	rec.Entries = rec.Entries[:0]
}

// SetTimestamp splits a 64-bit (seconds:nanoseconds) timestamp.
func (rec *Record) SetTimestamp(ts uint64) {
	rec.Secs = uint32(ts >> 32)
	rec.Nsecs = uint32(ts)
}

// Timestamp returns the 64-bit (seconds:nanoseconds) timestamp.
func (rec *Record) Timestamp() uint64 {
	return uint64(rec.Secs)<<32 | uint64(rec.Nsecs)
}

// Elems returns the raw memory elements backing n entries.
// The returned slice is only valid until the next call to Elems.
func (rec *Record) Elems(n int) []uint64 {
	sz := n * Elems
	if sz > len(rec.raw) {
		rec.raw = make([]uint64, sz)
	}
	return rec.raw[:sz]
}

// Decode decodes the first n entries out of the raw memory elements.
func (rec *Record) Decode(n int) {
	if n > cap(rec.Entries) {
		rec.Entries = make([]Entry, 0, n)
	}
	rec.Entries = rec.Entries[:n]
	for i := range rec.Entries {
		rec.Entries[i].Load(rec.raw[i*Elems:])
	}
}

// Dump writes a human readable description of the record to w,
// including the channels selected by mask.
func (rec *Record) Dump(w io.Writer, mask uint32) error {
	_, err := fmt.Fprintf(w, "array=%d time=%d.%09d entries=%d\n",
		rec.Array, rec.Secs, rec.Nsecs, len(rec.Entries),
	)
	if err != nil {
		return fmt.Errorf("entry: could not dump record: %w", err)
	}
	for i := range rec.Entries {
		e := &rec.Entries[i]
		_, err = fmt.Fprintf(w, "pulse=0x%016x nchans=%d\n", e.PulseID(), e.NumChannels())
		if err != nil {
			return fmt.Errorf("entry: could not dump entry %d: %w", i, err)
		}
		for j, cd := range e.Channels {
			if mask&(1<<j) == 0 {
				continue
			}
			_, err = fmt.Fprintf(w, "  [%2d] %08x:%08x:%08x n=%d mean=%g rms2=%g\n",
				j, cd[0], cd[1], cd[2], cd.N(), cd.Mean(), cd.RMS2(),
			)
			if err != nil {
				return fmt.Errorf("entry: could not dump entry %d: %w", i, err)
			}
		}
	}
	return nil
}
