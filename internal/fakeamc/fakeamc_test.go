// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fakeamc

import (
	"errors"
	"testing"

	"github.com/go-lpc/bsa/entry"
	"github.com/go-lpc/bsa/remote"
)

func TestCarrier(t *testing.T) {
	const E = entry.Size
	c := New(2, 8*E, 64)
	c.Setup(1, 4*E, 7*E)

	var es [4]entry.Entry
	for i := range es {
		es[i].SetPulseID(uint64(10 + i))
	}
	c.Push(1, es[:]...)

	arr := c.Arrays[1]
	if got, want := arr.WrAddr, uint64(5*E); got != want {
		t.Fatalf("invalid write pointer: got=%d, want=%d", got, want)
	}
	if !arr.Full || arr.Empty {
		t.Fatalf("invalid flags: full=%v empty=%v", arr.Full, arr.Empty)
	}

	var got entry.Entry
	got.Load(c.DRAM[4*E/8:])
	if got, want := got.PulseID(), uint64(13); got != want {
		t.Fatalf("invalid overwritten entry: got=%d, want=%d", got, want)
	}

	status, err := c.Endpoint("mmio/control/Status")
	if err != nil {
		t.Fatalf("could not resolve status: %+v", err)
	}
	v := make([]uint64, 2)
	err = status.Get(v, 0)
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if got, want := v[1], uint64(0x2); got != want {
		t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
	}

	ini, err := c.Endpoint("mmio/BsaBufferControl/BsaBuffers/Init")
	if err != nil {
		t.Fatalf("could not resolve init: %+v", err)
	}
	_ = ini.Set([]uint64{1}, 1)
	_ = ini.Set([]uint64{0}, 1)
	arr = c.Arrays[1]
	if arr.WrAddr != arr.StartAddr || arr.Full || !arr.Empty || arr.Pulses != 1 {
		t.Fatalf("invalid state after init pulse: %+v", arr)
	}

	ack, err := c.Endpoint("mmio/BsaBufferControl/BufferInit/MemoryArray")
	if err != nil {
		t.Fatalf("could not resolve clear: %+v", err)
	}
	c.Arrays[0].Clear = true
	_ = ack.Set([]uint64{0}, 0)
	if c.Arrays[0].Clear {
		t.Fatalf("clear latch not acknowledged")
	}

	dram, err := c.Endpoint("strm/dram")
	if err != nil {
		t.Fatalf("could not resolve dram: %+v", err)
	}
	err = dram.Get(make([]uint64, 65), 0)
	if !errors.Is(err, remote.ErrAccess) {
		t.Fatalf("invalid max-elems error: %+v", err)
	}
	if got, want := c.Calls("dram"), 1; got != want {
		t.Fatalf("invalid dram calls: got=%d, want=%d", got, want)
	}

	c.Fail("WrAddr", errors.New("timeout"))
	wr, _ := c.Endpoint("mmio/control/WrAddr")
	err = wr.Get(v[:1], 0)
	if !errors.Is(err, remote.ErrAccess) {
		t.Fatalf("invalid injected error: %+v", err)
	}
	c.Fail("WrAddr", nil)
	err = wr.Get(v[:1], 0)
	if err != nil {
		t.Fatalf("could not read wraddr: %+v", err)
	}

	c.ResetCalls()
	if got, want := c.Calls("WrAddr"), 0; got != want {
		t.Fatalf("invalid calls after reset: got=%d, want=%d", got, want)
	}

	_, err = c.Endpoint("mmio/control/Nope")
	if err == nil {
		t.Fatalf("expected an error")
	}
}
