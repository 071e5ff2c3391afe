// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"fmt"
	"math"

	"github.com/go-lpc/bsa/proc"
	"go-hep.org/x/hep/lcio"
)

// Detector is the detector name stored in LCIO run headers and events.
const Detector = "BSA"

// Collection is the name of the LCIO collection holding one entry.
//
// Data[0].I32s holds the array index and the low and high words of the
// pulse id. Data[1+k] holds channel k: I32s=[n] and F64s=[mean, rms2].
const Collection = "BSA"

// File writes the entries of many arrays into one LCIO file, one event
// per entry.
type File struct {
	w    *lcio.Writer
	run  int32
	ievt int32
	err  error
	done bool

	arrays []*LCIO
}

// Create creates an LCIO file for the given run.
func Create(fname string, run int32) (*File, error) {
	w, err := lcio.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("sink: could not create LCIO file %q: %w", fname, err)
	}

	err = w.WriteRunHeader(&lcio.RunHeader{
		RunNumber: run,
		Detector:  Detector,
		Descr:     "beam synchronous acquisition",
		Params: lcio.Params{
			Ints: map[string][]int32{
				"LayoutVersion": {1},
			},
		},
	})
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("sink: could not write run header: %w", err)
	}

	return &File{w: w, run: run}, nil
}

// Array returns a sink writing the entries of array i, with one channel
// per kind.
func (f *File) Array(i int, kinds ...proc.Kind) *LCIO {
	arr := &LCIO{
		f:     f,
		array: i,
		chans: make([]proc.ChannelSink, len(kinds)),
		obj: lcio.GenericObject{
			Data: make([]lcio.GenericObjectData, 1+len(kinds)),
		},
	}
	arr.obj.Data[0].I32s = make([]int32, 3)
	for k, kind := range kinds {
		arr.obj.Data[1+k] = lcio.GenericObjectData{
			I32s: make([]int32, 1),
			F64s: make([]float64, 2),
		}
		arr.chans[k] = &lcioChannel{arr: arr, slot: k, kind: kind}
	}
	f.arrays = append(f.arrays, arr)
	return arr
}

// Err returns the first error encountered while writing.
func (f *File) Err() error { return f.err }

// Events returns the number of events written so far.
func (f *File) Events() int { return int(f.ievt) }

// Close flushes the pending entries and closes the file.
func (f *File) Close() error {
	if f.done {
		return f.err
	}
	f.done = true
	for _, arr := range f.arrays {
		arr.flush()
	}
	err := f.w.Close()
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("sink: could not close LCIO file: %w", err)
	}
	return f.err
}

func (f *File) write(arr *LCIO) {
	if f.err != nil {
		return
	}
	evt := lcio.Event{
		RunNumber:   f.run,
		EventNumber: f.ievt,
		TimeStamp:   int64(arr.sec)*1e9 + int64(arr.nsec),
		Detector:    Detector,
	}
	evt.Add(Collection, &arr.obj)

	err := f.w.WriteEvent(&evt)
	if err != nil {
		f.err = fmt.Errorf("sink: could not write event %d: %w", f.ievt, err)
		return
	}
	f.ievt++
}

// LCIO writes the entries of one array as LCIO events.
// The event of an entry is written once the next entry starts, or when
// the file is closed.
type LCIO struct {
	f     *File
	array int
	sec   uint32
	nsec  uint32

	pending bool
	obj     lcio.GenericObject
	chans   []proc.ChannelSink
}

func (arr *LCIO) Array() int { return arr.array }

func (arr *LCIO) Reset(sec, nsec uint32) {
	arr.flush()
	arr.sec = sec
	arr.nsec = nsec
}

func (arr *LCIO) Set(sec, nsec uint32) {
	arr.flush()
	arr.sec = sec
	arr.nsec = nsec
}

func (arr *LCIO) Append(id uint64) {
	arr.flush()
	hdr := arr.obj.Data[0].I32s
	hdr[0] = int32(arr.array)
	hdr[1] = int32(uint32(id))
	hdr[2] = int32(uint32(id >> 32))
	for k := range arr.chans {
		d := &arr.obj.Data[1+k]
		d.I32s[0] = 0
		d.F64s[0] = math.NaN()
		d.F64s[1] = math.NaN()
	}
	arr.pending = true
}

func (arr *LCIO) Channels() []proc.ChannelSink { return arr.chans }

func (arr *LCIO) flush() {
	if !arr.pending {
		return
	}
	arr.pending = false
	arr.f.write(arr)
}

type lcioChannel struct {
	arr  *LCIO
	slot int
	kind proc.Kind
}

func (ch *lcioChannel) Kind() proc.Kind { return ch.kind }

func (ch *lcioChannel) Append(n uint32, mean, rms2 float64) {
	d := &ch.arr.obj.Data[1+ch.slot]
	d.I32s[0] = int32(n)
	d.F64s[0] = mean
	d.F64s[1] = rms2
}

// Entry is one BSA entry, as read back from an LCIO event.
type Entry struct {
	Array   int
	PulseID uint64
	Sec     uint32
	Nsec    uint32
	N       []uint32
	Mean    []float64
	RMS2    []float64
}

// Decode extracts the BSA entry held by evt.
func Decode(evt *lcio.Event) (Entry, error) {
	var e Entry
	obj, ok := evt.Get(Collection).(*lcio.GenericObject)
	if !ok || obj == nil {
		return e, fmt.Errorf("sink: event %d has no %q collection", evt.EventNumber, Collection)
	}
	if len(obj.Data) == 0 || len(obj.Data[0].I32s) != 3 {
		return e, fmt.Errorf("sink: event %d has an invalid %q collection", evt.EventNumber, Collection)
	}

	hdr := obj.Data[0].I32s
	e.Array = int(hdr[0])
	e.PulseID = uint64(uint32(hdr[2]))<<32 | uint64(uint32(hdr[1]))
	e.Sec = uint32(evt.TimeStamp / 1e9)
	e.Nsec = uint32(evt.TimeStamp % 1e9)

	n := len(obj.Data) - 1
	e.N = make([]uint32, n)
	e.Mean = make([]float64, n)
	e.RMS2 = make([]float64, n)
	for k, d := range obj.Data[1:] {
		if len(d.I32s) != 1 || len(d.F64s) != 2 {
			return e, fmt.Errorf("sink: event %d has an invalid channel %d", evt.EventNumber, k)
		}
		e.N[k] = uint32(d.I32s[0])
		e.Mean[k] = d.F64s[0]
		e.RMS2[k] = d.F64s[1]
	}
	return e, nil
}

var (
	_ proc.ArraySink   = (*LCIO)(nil)
	_ proc.ChannelSink = (*lcioChannel)(nil)
)
