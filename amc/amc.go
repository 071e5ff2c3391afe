// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package amc gives access to the BSA circular buffers of an AMC carrier.
//
// A Directory holds the per-array address regions and the status
// registers of the buffers. It fetches ranges of entries out of the
// carrier DRAM, following the circular layout of each array, and
// hands out Readers to drain the large fault arrays incrementally.
package amc // import "github.com/go-lpc/bsa/amc"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/bsa/entry"
	"github.com/go-lpc/bsa/remote"
)

var (
	ErrOutOfBounds = errors.New("amc: address out of array bounds")
	ErrAlignment   = errors.New("amc: address not aligned on an entry")
	ErrWrapFlag    = errors.New("amc: write pointer wrapped without wrap flag")
	ErrOversize    = errors.New("amc: read exceeds array capacity")
	ErrNoData      = errors.New("amc: no data")
)

// Status bits of an array.
const (
	StatusEmpty     = 1 << 0
	StatusFull      = 1 << 1
	StatusDone      = 1 << 2
	StatusTriggered = 1 << 3
	StatusError     = 1 << 4
)

// ArrayState is the state of one array, as observed at one polling cycle.
type ArrayState struct {
	Timestamp uint64 // seconds:nanoseconds
	WrAddr    uint64
	Clear     bool
	Wrap      bool

	Next uint64 // software read cursor
	NAcq uint32 // entries delivered since last reset
}

// Equal returns whether two states have the same timestamp and write pointer.
func (st ArrayState) Equal(o ArrayState) bool {
	return st.Timestamp == o.Timestamp && st.WrAddr == o.WrAddr
}

// Region is the [Begin, End) byte range of an array in DRAM.
type Region struct {
	Begin uint64
	End   uint64
}

// Len returns the number of entries the region can hold.
func (r Region) Len() int { return int((r.End - r.Begin) / entry.Size) }

// RingState is a snapshot of the pointers of one array.
type RingState struct {
	Begin uint64
	End   uint64
	Next  uint64 // write pointer
}

// Directory holds the registers and regions of the BSA arrays of a carrier.
//
// A Directory is not safe for concurrent use.
type Directory struct {
	msg *log.Logger
	cfg config

	tstamp  remote.Endpoint
	start   remote.Endpoint
	end     remote.Endpoint
	wrAddr  remote.Endpoint
	trAddr  remote.Endpoint
	enabled remote.Endpoint
	mode    remote.Endpoint
	init    remote.Endpoint
	status  remote.Endpoint
	empty   remote.Endpoint
	full    remote.Endpoint
	done    remote.Endpoint
	errs    remote.Endpoint
	clear   remote.Endpoint
	dram    remote.Endpoint

	regions []Region
	states  []ArrayState
	buf     []uint64 // scratch for batched register reads
	one     []uint64 // scratch for scalar register access
	record  *entry.Record

	err error // sticky error for register sequences
}

// New creates a directory for the BSA arrays reachable through tr.
func New(tr remote.Transport, opts ...Option) (*Directory, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.narrays <= 0 || cfg.narrays > 64:
		return nil, fmt.Errorf("amc: invalid number of arrays (%d)", cfg.narrays)
	case cfg.nstd < 0 || cfg.nstd > cfg.narrays:
		return nil, fmt.Errorf("amc: invalid number of standard arrays (%d)", cfg.nstd)
	case cfg.stdEntries <= 0 || cfg.faultEntries <= 0:
		return nil, fmt.Errorf("amc: invalid array sizes (std=%d, fault=%d)", cfg.stdEntries, cfg.faultEntries)
	case cfg.block <= 0 || cfg.quota <= 0:
		return nil, fmt.Errorf("amc: invalid block/quota (%d/%d)", cfg.block, cfg.quota)
	}

	dir := &Directory{
		msg:     cfg.msg,
		cfg:     cfg,
		regions: make([]Region, cfg.narrays),
		states:  make([]ArrayState, cfg.narrays),
		buf:     make([]uint64, cfg.narrays),
		one:     make([]uint64, 1),
		record:  entry.NewRecord(cfg.stdEntries),
	}
	if dir.msg == nil {
		dir.msg = log.New(os.Stdout, "amc: ", 0)
	}

	var err error
	for _, v := range []struct {
		ep   *remote.Endpoint
		name string
	}{
		{&dir.tstamp, cfg.layout.TimeStamp},
		{&dir.start, cfg.layout.StartAddr},
		{&dir.end, cfg.layout.EndAddr},
		{&dir.wrAddr, cfg.layout.WrAddr},
		{&dir.trAddr, cfg.layout.TriggerAddr},
		{&dir.enabled, cfg.layout.Enabled},
		{&dir.mode, cfg.layout.Mode},
		{&dir.init, cfg.layout.Init},
		{&dir.status, cfg.layout.Status},
		{&dir.empty, cfg.layout.Empty},
		{&dir.full, cfg.layout.Full},
		{&dir.done, cfg.layout.Done},
		{&dir.errs, cfg.layout.Error},
		{&dir.clear, cfg.layout.Clear},
		{&dir.dram, cfg.layout.DRAM},
	} {
		*v.ep, err = tr.Endpoint(v.name)
		if err != nil {
			return nil, fmt.Errorf("amc: could not resolve register %q: %w", v.name, err)
		}
		if v.ep == &dir.dram {
			continue
		}
		if n := (*v.ep).Len(); n < cfg.narrays {
			return nil, fmt.Errorf("amc: register %q holds %d arrays (want=%d)", v.name, n, cfg.narrays)
		}
	}

	return dir, nil
}

// NumArrays returns the total number of arrays.
func (dir *Directory) NumArrays() int { return dir.cfg.narrays }

// NumStandard returns the number of standard arrays.
// Arrays [NumStandard, NumArrays) are fault arrays.
func (dir *Directory) NumStandard() int { return dir.cfg.nstd }

// IsFault returns whether array i is a fault array.
func (dir *Directory) IsFault(i int) bool { return i >= dir.cfg.nstd }

func (dir *Directory) capacity(i int) int {
	if dir.IsFault(i) {
		return dir.cfg.faultEntries
	}
	return dir.cfg.stdEntries
}

func (dir *Directory) check(i int) error {
	if i < 0 || i >= dir.cfg.narrays {
		return fmt.Errorf("amc: invalid array index %d", i)
	}
	return nil
}

func (dir *Directory) get(ep remote.Endpoint, i int) uint64 {
	if dir.err != nil {
		return 0
	}
	dir.err = ep.Get(dir.one, i)
	return dir.one[0]
}

func (dir *Directory) set(ep remote.Endpoint, i int, v uint64) {
	if dir.err != nil {
		return
	}
	dir.one[0] = v
	dir.err = ep.Set(dir.one, i)
}

func (dir *Directory) getAll(ep remote.Endpoint) []uint64 {
	if dir.err != nil {
		return dir.buf
	}
	dir.err = remote.Read(ep, dir.buf, 0, 0)
	return dir.buf
}

func (dir *Directory) flush() error {
	err := dir.err
	dir.err = nil
	return err
}

// Initialize partitions the DRAM into contiguous regions, one per array,
// enables the arrays and pulses their init control.
// Standard arrays are sized for the configured number of standard entries,
// fault arrays for the configured number of fault entries.
func (dir *Directory) Initialize() error {
	var (
		p    uint64
		last uint64
	)
	for i := 0; i < dir.cfg.narrays; i++ {
		last += uint64(dir.capacity(i)) * entry.Size
	}
	if max := uint64(dir.dram.Len()) * 8; last > max {
		return fmt.Errorf("amc: arrays need 0x%x bytes of DRAM (have=0x%x)", last, max)
	}

	for i := 0; i < dir.cfg.narrays; i++ {
		pn := p + uint64(dir.capacity(i))*entry.Size
		dir.set(dir.start, i, p)
		dir.set(dir.end, i, pn)
		dir.set(dir.enabled, i, 1)
		dir.set(dir.mode, i, 0)
		dir.set(dir.init, i, 1)
		dir.set(dir.init, i, 0)
		if err := dir.flush(); err != nil {
			return fmt.Errorf("amc: could not initialize array %d: %w", i, err)
		}
		dir.regions[i] = Region{Begin: p, End: pn}
		p = pn
	}
	return nil
}

// Region returns the region of array i.
// Regions not assigned by Initialize are read back from the hardware.
func (dir *Directory) Region(i int) (Region, error) {
	if err := dir.check(i); err != nil {
		return Region{}, err
	}
	if r := dir.regions[i]; r.End > r.Begin {
		return r, nil
	}
	r := Region{
		Begin: dir.get(dir.start, i),
		End:   dir.get(dir.end, i),
	}
	if err := dir.flush(); err != nil {
		return Region{}, fmt.Errorf("amc: could not read region of array %d: %w", i, err)
	}
	if r.End < r.Begin || (r.End-r.Begin)%entry.Size != 0 {
		return Region{}, fmt.Errorf(
			"amc: invalid region [0x%x, 0x%x) for array %d: %w",
			r.Begin, r.End, i, ErrAlignment,
		)
	}
	dir.regions[i] = r
	return r, nil
}

// State returns the state of array i.
func (dir *Directory) State(i int) (ArrayState, error) {
	if err := dir.check(i); err != nil {
		return ArrayState{}, err
	}
	st := ArrayState{
		Timestamp: dir.get(dir.tstamp, i),
		WrAddr:    dir.get(dir.wrAddr, i),
		Clear:     dir.get(dir.clear, i) != 0,
		Wrap:      dir.get(dir.full, i) != 0,
	}
	if err := dir.flush(); err != nil {
		return ArrayState{}, fmt.Errorf("amc: could not read state of array %d: %w", i, err)
	}
	return st, nil
}

// States returns the states of all arrays, read in one batch per register.
// The returned slice is only valid until the next call to States.
func (dir *Directory) States() ([]ArrayState, error) {
	for i, v := range dir.getAll(dir.tstamp) {
		dir.states[i].Timestamp = v
	}
	for i, v := range dir.getAll(dir.wrAddr) {
		dir.states[i].WrAddr = v
	}
	for i, v := range dir.getAll(dir.clear) {
		dir.states[i].Clear = v != 0
	}
	for i, v := range dir.getAll(dir.full) {
		dir.states[i].Wrap = v != 0
	}
	if err := dir.flush(); err != nil {
		return nil, fmt.Errorf("amc: could not read array states: %w", err)
	}
	return dir.states, nil
}

func (dir *Directory) mask(ep remote.Endpoint, bit uint64, set bool) (uint64, error) {
	var m uint64
	for i, v := range dir.getAll(ep) {
		if (v&bit != 0) == set {
			m |= 1 << i
		}
	}
	if err := dir.flush(); err != nil {
		return 0, err
	}
	return m, nil
}

// DoneMask returns the arrays whose done flag is latched.
func (dir *Directory) DoneMask() (uint64, error) {
	m, err := dir.mask(dir.status, StatusDone, true)
	if err != nil {
		return 0, fmt.Errorf("amc: could not read done flags: %w", err)
	}
	return m, nil
}

// Done returns whether the done flag of array i is latched.
func (dir *Directory) Done(i int) (bool, error) {
	if err := dir.check(i); err != nil {
		return false, err
	}
	v := dir.get(dir.done, i)
	if err := dir.flush(); err != nil {
		return false, fmt.Errorf("amc: could not read done flag of array %d: %w", i, err)
	}
	return v != 0, nil
}

// Status returns the raw status word of array i.
func (dir *Directory) Status(i int) (uint32, error) {
	if err := dir.check(i); err != nil {
		return 0, err
	}
	v := dir.get(dir.status, i)
	if err := dir.flush(); err != nil {
		return 0, fmt.Errorf("amc: could not read status of array %d: %w", i, err)
	}
	return uint32(v), nil
}

// InProgress returns the arrays whose empty flag is not set.
func (dir *Directory) InProgress() (uint64, error) {
	m, err := dir.mask(dir.empty, 1, false)
	if err != nil {
		return 0, fmt.Errorf("amc: could not read empty flags: %w", err)
	}
	return m, nil
}

// Reset pulses the init control of array i, bringing it back to
// an empty state.
func (dir *Directory) Reset(i int) error {
	if err := dir.check(i); err != nil {
		return err
	}
	dir.set(dir.init, i, 1)
	dir.set(dir.init, i, 0)
	if err := dir.flush(); err != nil {
		return fmt.Errorf("amc: could not reset array %d: %w", i, err)
	}
	return nil
}

// AckClear acknowledges the new-acquisition latch of array i.
func (dir *Directory) AckClear(i int) error {
	if err := dir.check(i); err != nil {
		return err
	}
	dir.set(dir.clear, i, 0)
	if err := dir.flush(); err != nil {
		return fmt.Errorf("amc: could not acknowledge clear of array %d: %w", i, err)
	}
	return nil
}

// Ring returns the begin, end and write pointers of array i.
func (dir *Directory) Ring(i int) (RingState, error) {
	if err := dir.check(i); err != nil {
		return RingState{}, err
	}
	rs := RingState{
		Begin: dir.get(dir.start, i),
		End:   dir.get(dir.end, i),
		Next:  dir.get(dir.wrAddr, i),
	}
	if err := dir.flush(); err != nil {
		return RingState{}, fmt.Errorf("amc: could not read ring of array %d: %w", i, err)
	}
	return rs, nil
}

// Dump writes a table of the pointers and flags of all arrays to w.
func (dir *Directory) Dump(w io.Writer) error {
	status := append([]uint64(nil), dir.getAll(dir.status)...)
	if err := dir.flush(); err != nil {
		return fmt.Errorf("amc: could not read status: %w", err)
	}

	var (
		done, full, empty, errs uint64
	)
	for i, v := range status {
		if v&StatusDone != 0 {
			done |= 1 << i
		}
		if v&StatusFull != 0 {
			full |= 1 << i
		}
		if v&StatusEmpty != 0 {
			empty |= 1 << i
		}
		if v&StatusError != 0 {
			errs |= 1 << i
		}
	}

	fmt.Fprintf(w, "BufferDone [%016x]\t  Full[%016x]\t  Empty[%016x]\n", done, full, empty)
	fmt.Fprintf(w, "%4.4s %9.9s %9.9s %9.9s %9.9s %20.20s %4.4s %4.4s %4.4s %4.4s\n",
		"Buff", "Start", "End", "Write", "Trigger", "Timestamp", "Done", "Full", "Empt", "Erro",
	)
	flag := func(m uint64, i int) string {
		if m&(1<<i) != 0 {
			return "X"
		}
		return "-"
	}
	for i := 0; i < dir.cfg.narrays; i++ {
		var (
			beg = dir.get(dir.start, i)
			end = dir.get(dir.end, i)
			wr  = dir.get(dir.wrAddr, i)
			tr  = dir.get(dir.trAddr, i)
			ts  = dir.get(dir.tstamp, i)
		)
		if err := dir.flush(); err != nil {
			return fmt.Errorf("amc: could not read pointers of array %d: %w", i, err)
		}
		_, err := fmt.Fprintf(w, "%4.4x %09x %09x %09x %09x %10.10d.%09d %4.4s %4.4s %4.4s %4.4s\n",
			i, beg, end, wr, tr, ts>>32, ts&0xffffffff,
			flag(done, i), flag(full, i), flag(empty, i), flag(errs, i),
		)
		if err != nil {
			return fmt.Errorf("amc: could not dump array %d: %w", i, err)
		}
	}
	return nil
}
