// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amc

import (
	"fmt"
	"log"

	"github.com/go-lpc/bsa/entry"
)

// FaultEpoch is subtracted from the latched timestamp of a fault array
// when a drain starts, so the drained waveform is attributed to the
// previous latch.
const FaultEpoch = 1 << 32

// Reader drains one array across many polling cycles, reading at most
// a fixed quota of entries per call to Next.
//
// Readers are used for the fault arrays, whose regions are too large to
// be fetched in one polling cycle.
type Reader struct {
	dir   *Directory
	msg   *log.Logger
	array int

	start uint64 // region begin
	end   uint64 // region end
	last  uint64 // write pointer at last reset
	next  uint64 // read cursor

	preset uint64 // write pointer snapshot taken when the latch was first seen
	wrap   bool   // data runs from next to end, then from start to last
	abort  bool
	ts     uint64

	quota uint64 // in bytes
	rec   *entry.Record
}

// NewReader returns a reader draining array i.
func (dir *Directory) NewReader(i int) (*Reader, error) {
	reg, err := dir.Region(i)
	if err != nil {
		return nil, fmt.Errorf("amc: could not create reader for array %d: %w", i, err)
	}
	return &Reader{
		dir:    dir,
		msg:    dir.msg,
		array:  i,
		start:  reg.Begin,
		end:    reg.End,
		last:   reg.Begin,
		next:   reg.Begin,
		preset: reg.Begin,
		quota:  uint64(dir.cfg.quota) * entry.Size,
		rec:    entry.NewRecord(dir.cfg.quota),
	}, nil
}

// Array returns the index of the drained array.
func (r *Reader) Array() int { return r.array }

// Cursor returns the read cursor and the end of the current drain.
func (r *Reader) Cursor() (next, last uint64) { return r.next, r.last }

// Timestamp returns the timestamp attributed to the current drain.
func (r *Reader) Timestamp() uint64 { return r.ts }

// Preset records the write pointer observed when the done latch of the
// array was first seen.
func (r *Reader) Preset(wrAddr uint64) { r.preset = wrAddr }

// Done returns whether the current drain is complete.
func (r *Reader) Done() bool { return r.next == r.last && !r.wrap }

// Abort cancels the current drain.
// It takes effect at the next call to Next or Reset.
func (r *Reader) Abort() { r.abort = true }

// Aborted returns whether a cancellation is pending.
func (r *Reader) Aborted() bool { return r.abort }

func (r *Reader) cancel() {
	r.abort = false
	r.next = r.last
	r.wrap = false
}

// Rearm rewinds the reader to the start of its region, as the hardware
// does when its init control is pulsed.
func (r *Reader) Rearm() {
	r.last = r.start
	r.next = r.start
	r.wrap = false
	r.abort = false
}

// Reset starts a new drain, up to the write pointer of st.
// Reset returns false if the write pointer moved since Preset, as the
// hardware is then not done yet, or if it is not a valid entry address.
func (r *Reader) Reset(st ArrayState) bool {
	if r.abort {
		r.cancel()
		return false
	}

	switch {
	case st.WrAddr != r.preset:
		return false
	case st.WrAddr < r.start || st.WrAddr >= r.end:
		r.msg.Printf(
			"array %d: write pointer 0x%x outside [0x%x, 0x%x)",
			r.array, st.WrAddr, r.start, r.end,
		)
		return false
	case (st.WrAddr-r.start)%entry.Size != 0:
		r.msg.Printf(
			"array %d: misaligned write pointer 0x%x (start=0x%x)",
			r.array, st.WrAddr, r.start,
		)
		return false
	}

	switch {
	case st.Wrap:
		r.next = st.WrAddr
		r.wrap = true
	case r.last <= st.WrAddr:
		r.next = r.last
		r.wrap = false
	default:
		r.next = r.start
		r.wrap = false
	}
	r.last = st.WrAddr

	r.ts = st.Timestamp
	if r.ts >= FaultEpoch {
		r.ts -= FaultEpoch
	}
	return true
}

// Next reads the next chunk of the current drain.
//
// The returned record is owned by the reader and is only valid until
// the next call to Next.
func (r *Reader) Next() (*entry.Record, error) {
	rec := r.rec
	rec.Reset(r.array)
	rec.SetTimestamp(r.ts)

	if r.abort {
		r.cancel()
		return rec, nil
	}
	if r.Done() {
		return rec, nil
	}

	var (
		segs [2][2]uint64
		nseg = 1
		next = r.next + r.quota
		wrap = r.wrap
	)
	switch {
	case !r.wrap && next <= r.last:
		segs[0] = [2]uint64{r.next, next}
	case !r.wrap:
		segs[0] = [2]uint64{r.next, r.last}
		next = r.last
	case next < r.end:
		segs[0] = [2]uint64{r.next, next}
	case next == r.end:
		segs[0] = [2]uint64{r.next, next}
		next = r.start
		wrap = false
	default:
		rem := next - r.end
		stop := r.start + rem
		if stop > r.last {
			stop = r.last
		}
		segs[0] = [2]uint64{r.next, r.end}
		segs[1] = [2]uint64{r.start, stop}
		nseg = 2
		next = stop
		wrap = false
	}

	// Reset only accepts aligned pointers within the region: reads span whole entries.
	var size uint64
	for _, seg := range segs[:nseg] {
		size += seg[1] - seg[0]
	}
	var (
		n   = int(size / entry.Size)
		raw = rec.Elems(n)
		off = 0
	)
	for _, seg := range segs[:nseg] {
		sz := int(seg[1]-seg[0]) >> 3
		err := r.dir.fill(raw[off:off+sz], seg[0])
		if err != nil {
			return nil, fmt.Errorf(
				"amc: could not read array %d [0x%x, 0x%x): %w",
				r.array, seg[0], seg[1], err,
			)
		}
		off += sz
	}
	rec.Decode(n)

	r.next = next
	r.wrap = wrap
	return rec, nil
}
