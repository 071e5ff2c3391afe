// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amc

import (
	"bytes"
	"errors"
	"log"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/bsa/internal/fakeamc"
	"github.com/go-lpc/bsa/remote"
)

const fault = 2 // first fault array, region [20E, 52E)

func newReader(t *testing.T, opts ...Option) (*fakeamc.Carrier, *Directory, *Reader) {
	t.Helper()
	c, dir := newDir(t, opts...)
	err := dir.Initialize()
	if err != nil {
		t.Fatalf("could not initialize: %+v", err)
	}
	r, err := dir.NewReader(fault)
	if err != nil {
		t.Fatalf("could not create reader: %+v", err)
	}
	return c, dir, r
}

func drain(t *testing.T, r *Reader) (ids []uint64, sizes []int) {
	t.Helper()
	for i := 0; !r.Done(); i++ {
		if i > 100 {
			t.Fatalf("drain did not complete")
		}
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("could not read next chunk: %+v", err)
		}
		ids = append(ids, pulses(rec)...)
		sizes = append(sizes, len(rec.Entries))
	}
	return ids, sizes
}

func TestReader(t *testing.T) {
	c, _, r := newReader(t)

	if !r.Done() {
		t.Fatalf("fresh reader should be done")
	}

	c.Push(fault, newEntries(0, 10)...)
	c.Arrays[fault].TimeStamp = 5<<32 | 6
	st := ArrayState{
		Timestamp: c.Arrays[fault].TimeStamp,
		WrAddr:    c.Arrays[fault].WrAddr,
	}

	if r.Reset(st) {
		t.Fatalf("reset should fail without preset")
	}

	r.Preset(st.WrAddr)
	if !r.Reset(st) {
		t.Fatalf("could not reset reader")
	}
	if got, want := r.Timestamp(), uint64(4<<32|6); got != want {
		t.Fatalf("invalid timestamp: got=0x%x, want=0x%x", got, want)
	}

	ids, sizes := drain(t, r)
	if got, want := ids, seq(0, 10); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid pulses: got=%v, want=%v", got, want)
	}
	if got, want := sizes, []int{4, 4, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid chunks: got=%v, want=%v", got, want)
	}

	next, last := r.Cursor()
	if next != 30*E || last != 30*E {
		t.Fatalf("invalid cursor: next=0x%x, last=0x%x", next, last)
	}

	// once done, Next returns empty records.
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if len(rec.Entries) != 0 {
		t.Fatalf("unexpected entries: %d", len(rec.Entries))
	}

	// new data without an init pulse: drain resumes from previous last.
	c.Push(fault, newEntries(10, 3)...)
	st.WrAddr = c.Arrays[fault].WrAddr
	r.Preset(st.WrAddr)
	if !r.Reset(st) {
		t.Fatalf("could not reset reader")
	}
	ids, _ = drain(t, r)
	if got, want := ids, seq(10, 3); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid pulses: got=%v, want=%v", got, want)
	}

	r.Rearm()
	next, last = r.Cursor()
	if next != 20*E || last != 20*E {
		t.Fatalf("invalid cursor after rearm: next=0x%x, last=0x%x", next, last)
	}
}

func TestReaderWrap(t *testing.T) {
	for _, tc := range []struct {
		name  string
		quota int
		sizes []int
	}{
		{"end-boundary", 4, []int{4, 4, 4, 4, 4, 4, 4, 4}},
		{"across-end", 5, []int{5, 5, 5, 5, 5, 5, 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, _, r := newReader(t, WithQuota(tc.quota))

			c.Push(fault, newEntries(0, 40)...)
			st := ArrayState{
				Timestamp: 1,
				WrAddr:    c.Arrays[fault].WrAddr,
				Wrap:      c.Arrays[fault].Full,
			}
			if got, want := st.WrAddr, uint64(28*E); got != want {
				t.Fatalf("invalid write pointer: got=0x%x, want=0x%x", got, want)
			}

			r.Preset(st.WrAddr)
			if !r.Reset(st) {
				t.Fatalf("could not reset reader")
			}
			if r.Done() {
				t.Fatalf("wrapped reader should not be done")
			}
			if got, want := r.Timestamp(), uint64(1); got != want {
				t.Fatalf("invalid timestamp: got=%d, want=%d", got, want)
			}

			ids, sizes := drain(t, r)
			if got, want := ids, seq(8, 32); !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid pulses:\ngot= %v\nwant=%v", got, want)
			}
			if got, want := sizes, tc.sizes; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid chunks: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestReaderAbort(t *testing.T) {
	c, _, r := newReader(t)

	c.Push(fault, newEntries(0, 10)...)
	st := ArrayState{WrAddr: c.Arrays[fault].WrAddr}
	r.Preset(st.WrAddr)
	if !r.Reset(st) {
		t.Fatalf("could not reset reader")
	}

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if got, want := len(rec.Entries), 4; got != want {
		t.Fatalf("invalid entries: got=%d, want=%d", got, want)
	}

	r.Abort()
	if r.Done() {
		t.Fatalf("abort should only take effect at the next call")
	}
	if !r.Aborted() {
		t.Fatalf("abort not pending")
	}
	rec, err = r.Next()
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if got, want := len(rec.Entries), 0; got != want {
		t.Fatalf("invalid entries after abort: got=%d, want=%d", got, want)
	}
	if !r.Done() {
		t.Fatalf("aborted reader should be done")
	}
	if r.Aborted() {
		t.Fatalf("abort still pending after next")
	}

	// an abort pending at reset time cancels the reset.
	r.Abort()
	if r.Reset(st) {
		t.Fatalf("reset should fail when aborted")
	}
	if !r.Done() {
		t.Fatalf("aborted reader should be done")
	}
}

func TestReaderInvalid(t *testing.T) {
	msg := new(bytes.Buffer)
	c, _, r := newReader(t, WithLogger(log.New(msg, "amc: ", 0)))

	for _, wr := range []uint64{10 * E, 52 * E, 21*E + 8} {
		r.Preset(wr)
		if r.Reset(ArrayState{WrAddr: wr}) {
			t.Fatalf("reset should fail for write pointer 0x%x", wr)
		}
	}
	for _, want := range []string{
		"amc: array 2: write pointer 0xf00 outside [0x1e00, 0x4e00)",
		"amc: array 2: misaligned write pointer 0x1f88 (start=0x1e00)",
	} {
		if !strings.Contains(msg.String(), want) {
			t.Fatalf("missing %q in log:\n%s", want, msg.String())
		}
	}

	c.Push(fault, newEntries(0, 2)...)
	st := ArrayState{WrAddr: c.Arrays[fault].WrAddr}
	r.Preset(st.WrAddr)
	if !r.Reset(st) {
		t.Fatalf("could not reset reader")
	}
	c.Fail("dram", errors.New("timeout"))
	_, err := r.Next()
	if !errors.Is(err, remote.ErrAccess) {
		t.Fatalf("invalid error: %+v", err)
	}
	if r.Done() {
		t.Fatalf("failed read should not advance the cursor")
	}
}
