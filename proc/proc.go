// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proc drives the acquisition of BSA arrays: it polls the buffer
// directory, decides what to fetch for each array and forwards the
// decoded entries to consumer sinks.
package proc // import "github.com/go-lpc/bsa/proc"

import (
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/bsa/amc"
	"github.com/go-lpc/bsa/entry"
)

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger used to report aborted updates.
func WithLogger(msg *log.Logger) Option {
	return func(p *Processor) {
		p.msg = msg
	}
}

// WithAbortHandler registers a function called whenever an update of
// array i fails with err and is aborted.
func WithAbortHandler(f func(i int, err error)) Option {
	return func(p *Processor) {
		p.onAbort = f
	}
}

// Processor runs the acquisition state machine of all the arrays of
// a directory.
//
// A Processor is driven by a single polling loop: Pending, then Update
// for each pending array. It is not safe for concurrent use.
type Processor struct {
	msg *log.Logger
	dir *amc.Directory

	nstd    int
	narrays int
	regions []amc.Region
	last    []amc.ArrayState // last seen state, with read cursor and count
	readers []*amc.Reader    // one per fault array
	head    int              // fault array being drained, -1 if none
	dec     decoder

	onAbort func(i int, err error)
}

// New creates a processor for the arrays of dir.
func New(dir *amc.Directory, opts ...Option) (*Processor, error) {
	p := &Processor{
		dir:     dir,
		nstd:    dir.NumStandard(),
		narrays: dir.NumArrays(),
		head:    -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.msg == nil {
		p.msg = log.New(os.Stdout, "bsa: ", 0)
	}

	p.regions = make([]amc.Region, p.narrays)
	p.last = make([]amc.ArrayState, p.narrays)
	for i := range p.regions {
		reg, err := dir.Region(i)
		if err != nil {
			return nil, fmt.Errorf("proc: could not get region of array %d: %w", i, err)
		}
		p.regions[i] = reg
		p.last[i].WrAddr = reg.Begin
		p.last[i].Next = reg.Begin
	}

	p.readers = make([]*amc.Reader, p.narrays-p.nstd)
	for i := range p.readers {
		r, err := dir.NewReader(p.nstd + i)
		if err != nil {
			return nil, fmt.Errorf("proc: could not create reader: %w", err)
		}
		p.readers[i] = r
	}

	return p, nil
}

// State returns the last seen state of array i, including its read
// cursor and the number of entries delivered since its last reset.
func (p *Processor) State(i int) amc.ArrayState { return p.last[i] }

// Draining returns the fault array currently being drained, or -1.
func (p *Processor) Draining() int { return p.head }

// Pending returns the arrays worth updating.
//
// A standard array is pending when its timestamp or write pointer
// changed since it was last updated. A fault array is pending when its
// done flag is latched, or while it heads the drain queue.
func (p *Processor) Pending() uint64 {
	states, err := p.dir.States()
	if err != nil {
		p.msg.Printf("could not poll arrays: %+v", err)
		return 0
	}

	var mask uint64
	for i := 0; i < p.nstd; i++ {
		if !states[i].Equal(p.last[i]) {
			mask |= 1 << i
		}
	}

	if p.nstd < p.narrays {
		done, err := p.dir.DoneMask()
		if err != nil {
			p.msg.Printf("could not poll fault arrays: %+v", err)
			return mask
		}
		faults := (uint64(1)<<p.narrays - 1) &^ (uint64(1)<<p.nstd - 1)
		mask |= done & faults
	}
	if p.head >= 0 {
		mask |= 1 << p.head
	}
	return mask
}

// Update drains the array of sink once and forwards the new entries to sink.
// Update returns the number of entries delivered since the last reset of
// the array. Errors are not returned: the update is aborted, the array
// is reset and Update returns zero.
func (p *Processor) Update(sink ArraySink) int {
	i := sink.Array()
	if i < 0 || i >= p.narrays {
		p.msg.Printf("invalid array index %d", i)
		return 0
	}
	if i < p.nstd {
		return p.updateStandard(i, sink)
	}
	return p.updateFault(i, sink)
}

func (p *Processor) updateStandard(i int, sink ArraySink) int {
	cur, err := p.dir.State(i)
	if err != nil {
		return p.abort(i, sink, err)
	}

	prev := p.last[i]
	if cur.Equal(prev) {
		return int(prev.NAcq)
	}

	cur.NAcq = prev.NAcq
	begin := prev.Next
	if cur.Clear {
		err = p.dir.AckClear(i)
		if err != nil {
			return p.abort(i, sink, err)
		}
		sink.Reset(split(cur.Timestamp))
		cur.NAcq = 0
		begin = p.regions[i].Begin
	} else {
		sink.Set(split(cur.Timestamp))
	}

	cur.Next = begin
	if cur.WrAddr != begin || cur.Wrap {
		rec, next, err := p.dir.Get(i, begin)
		if err != nil {
			return p.abort(i, sink, err)
		}
		cur.Next = next
		cur.NAcq += p.deliver(sink, rec)
	}

	p.last[i] = cur
	return int(cur.NAcq)
}

func (p *Processor) updateFault(i int, sink ArraySink) int {
	r := p.readers[i-p.nstd]
	cur, err := p.dir.State(i)
	if err != nil {
		return p.abort(i, sink, err)
	}
	cur.Next = p.last[i].Next
	cur.NAcq = p.last[i].NAcq

	switch p.head {
	case -1:
		done, err := p.dir.Done(i)
		if err != nil {
			return p.abort(i, sink, err)
		}
		if !done {
			return 0
		}
		// first sighting of the latch only arms the reader.
		r.Preset(cur.WrAddr)
		p.head = i
		return 0
	case i:
		// ok.
	default:
		return 0
	}

	cancelled := r.Aborted()
	if r.Done() && !cancelled {
		done, err := p.dir.Done(i)
		if err != nil {
			return p.abort(i, sink, err)
		}
		if !done {
			p.msg.Printf("array %d: done flag dropped before drain", i)
			r.Rearm()
			p.head = -1
			p.last[i].Next = p.regions[i].Begin
			return int(p.last[i].NAcq)
		}
		if !r.Reset(cur) {
			p.msg.Printf("array %d: write pointer moved since done latched (0x%x)", i, cur.WrAddr)
			err = p.dir.Reset(i)
			if err != nil {
				p.msg.Printf("array %d: %+v", i, err)
			}
			r.Rearm()
			p.head = -1
			p.last[i].Next = p.regions[i].Begin
			return 0
		}
		sink.Reset(split(r.Timestamp()))
		cur.NAcq = 0
	}

	// a cancelled drain completes with no entries.
	rec, err := r.Next()
	if err != nil {
		return p.abort(i, sink, err)
	}
	cur.NAcq += p.deliver(sink, rec)
	cur.Next, _ = r.Cursor()

	if r.Done() {
		p.head = -1
		if !cancelled {
			err = p.dir.Reset(i)
			if err != nil {
				return p.abort(i, sink, err)
			}
			sink.Set(split(r.Timestamp()))
		}
		r.Rearm()
		cur.Next = p.regions[i].Begin
	}

	p.last[i] = cur
	return int(cur.NAcq)
}

// Abort cancels the acquisition of the array of sink: its hardware
// is reset and its read cursor rewound to the start of its region.
func (p *Processor) Abort(sink ArraySink) {
	i := sink.Array()
	if i < 0 || i >= p.narrays {
		p.msg.Printf("invalid array index %d", i)
		return
	}
	p.abort(i, sink, nil)
}

func (p *Processor) abort(i int, sink ArraySink, cause error) int {
	if cause != nil {
		p.msg.Printf("array %d: aborting update: %+v", i, cause)
		if p.onAbort != nil {
			p.onAbort(i, cause)
		}
	}

	cur, err := p.dir.State(i)
	if err != nil {
		p.msg.Printf("array %d: could not capture state: %+v", i, err)
		cur = p.last[i]
	}
	sink.Reset(split(cur.Timestamp))

	err = p.dir.Reset(i)
	if err != nil {
		p.msg.Printf("array %d: could not reset: %+v", i, err)
	}

	if i >= p.nstd {
		r := p.readers[i-p.nstd]
		switch p.head {
		case i:
			// the head completes empty at its next update.
			r.Abort()
		default:
			r.Rearm()
		}
	}

	cur.Next = p.regions[i].Begin
	cur.NAcq = 0
	p.last[i] = cur
	return 0
}

// deliver forwards the entries of rec to sink and returns their number.
func (p *Processor) deliver(sink ArraySink, rec *entry.Record) uint32 {
	chans := sink.Channels()
	for k := range rec.Entries {
		e := &rec.Entries[k]
		sink.Append(e.PulseID())
		p.dec.decode(e, chans)
	}
	return uint32(len(rec.Entries))
}

func split(ts uint64) (sec, nsec uint32) {
	return uint32(ts >> 32), uint32(ts)
}
