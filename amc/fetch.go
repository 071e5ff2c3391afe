// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/bsa/entry"
	"github.com/go-lpc/bsa/remote"
)

// Get fetches all the entries of array i written in [begin, wrAddr),
// following the circular layout of the array region.
// Get returns the record holding the entries and the address to resume
// from on the next incremental fetch.
//
// Records of standard arrays are owned by the directory and are only
// valid until the next call to Get or Record. Fault arrays are read
// into a record sized for the call, which the directory does not keep.
func (dir *Directory) Get(i int, begin uint64) (*entry.Record, uint64, error) {
	if err := dir.check(i); err != nil {
		return nil, begin, err
	}

	var (
		ts    = dir.get(dir.tstamp, i)
		start = dir.get(dir.start, i)
		last  = dir.get(dir.end, i)
		end   = dir.get(dir.wrAddr, i)
		wrap  = dir.get(dir.full, i) != 0
	)
	if err := dir.flush(); err != nil {
		return nil, begin, fmt.Errorf("amc: could not read pointers of array %d: %w", i, err)
	}

	switch {
	case begin < start || begin > last:
		return nil, begin, fmt.Errorf(
			"amc: array %d: begin=0x%x outside [0x%x, 0x%x]: %w",
			i, begin, start, last, ErrOutOfBounds,
		)
	case end < start || end > last:
		return nil, begin, fmt.Errorf(
			"amc: array %d: write pointer=0x%x outside [0x%x, 0x%x]: %w",
			i, end, start, last, ErrOutOfBounds,
		)
	case (begin-start)%entry.Size != 0:
		return nil, begin, fmt.Errorf(
			"amc: array %d: begin=0x%x (start=0x%x): %w",
			i, begin, start, ErrAlignment,
		)
	case end == begin && begin == start && !wrap:
		return nil, begin, fmt.Errorf("amc: array %d: %w", i, ErrNoData)
	}

	rec := dir.record
	if dir.IsFault(i) {
		rec = entry.NewRecord(0)
	}
	rec.Reset(i)
	rec.SetTimestamp(ts)

	capa := dir.capacity(i)
	if end <= begin {
		if !wrap {
			return nil, begin, fmt.Errorf(
				"amc: array %d: write pointer=0x%x <= begin=0x%x: %w",
				i, end, begin, ErrWrapFlag,
			)
		}
		var (
			tail = int((last - begin) / entry.Size)
			head = int((end - start) / entry.Size)
			n    = tail + head
		)
		if n > capa {
			return nil, begin, fmt.Errorf(
				"amc: array %d: %d entries (max=%d): %w",
				i, n, capa, ErrOversize,
			)
		}
		end = start + uint64(head)*entry.Size

		raw := rec.Elems(n)
		err := dir.fill(raw[:tail*entry.Elems], begin)
		if err == nil {
			err = dir.fill(raw[tail*entry.Elems:], start)
		}
		if err != nil {
			return nil, begin, fmt.Errorf("amc: could not fetch array %d: %w", i, err)
		}
		rec.Decode(n)
		return rec, end, nil
	}

	n := int((end - begin) / entry.Size)
	if n > capa {
		return nil, begin, fmt.Errorf(
			"amc: array %d: %d entries (max=%d): %w",
			i, n, capa, ErrOversize,
		)
	}
	end = begin + uint64(n)*entry.Size

	err := dir.fill(rec.Elems(n), begin)
	if err != nil {
		return nil, begin, fmt.Errorf("amc: could not fetch array %d: %w", i, err)
	}
	rec.Decode(n)
	return rec, end, nil
}

// Record fetches all the entries of array i, from the start of its region.
func (dir *Directory) Record(i int) (*entry.Record, error) {
	r, err := dir.Region(i)
	if err != nil {
		return nil, err
	}
	rec, _, err := dir.Get(i, r.Begin)
	return rec, err
}

// Buffer returns a copy of the DRAM bytes in [begin, end).
// Both addresses must be 64-bit aligned.
func (dir *Directory) Buffer(begin, end uint64) ([]byte, error) {
	if begin%8 != 0 || end%8 != 0 || end < begin {
		return nil, fmt.Errorf("amc: invalid buffer range [0x%x, 0x%x): %w", begin, end, ErrAlignment)
	}
	raw := make([]uint64, (end-begin)/8)
	err := dir.fill(raw, begin)
	if err != nil {
		return nil, fmt.Errorf("amc: could not fetch buffer [0x%x, 0x%x): %w", begin, end, err)
	}
	buf := make([]byte, end-begin)
	for k, v := range raw {
		binary.LittleEndian.PutUint64(buf[8*k:], v)
	}
	return buf, nil
}

// fill copies len(dst) DRAM elements starting at byte address addr,
// one block at a time.
func (dir *Directory) fill(dst []uint64, addr uint64) error {
	if len(dst) == 0 {
		return nil
	}
	return remote.Read(dir.dram, dst, int(addr>>3), dir.cfg.block)
}
