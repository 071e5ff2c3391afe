// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakeamc holds an in-memory simulation of the BSA buffers of
// an AMC carrier, exposed through the remote.Transport contract.
package fakeamc // import "github.com/go-lpc/bsa/internal/fakeamc"

import (
	"fmt"
	"path"
	"strings"

	"github.com/go-lpc/bsa/entry"
	"github.com/go-lpc/bsa/remote"
)

// Array is the simulated state of one BSA array.
type Array struct {
	TimeStamp   uint64
	StartAddr   uint64
	EndAddr     uint64
	WrAddr      uint64
	TriggerAddr uint64

	Enabled     bool
	Mode        bool
	Init        bool
	SoftTrigger bool

	Empty     bool
	Full      bool
	Done      bool
	Triggered bool
	Error     bool

	Clear bool

	Pulses int // number of init pulses
}

// Status returns the packed status word of the array.
func (arr *Array) Status() uint32 {
	var v uint32
	for i, b := range []bool{arr.Empty, arr.Full, arr.Done, arr.Triggered, arr.Error} {
		if b {
			v |= 1 << i
		}
	}
	return v
}

func (arr *Array) init() {
	arr.WrAddr = arr.StartAddr
	arr.TriggerAddr = arr.StartAddr
	arr.Empty = true
	arr.Full = false
	arr.Done = false
	arr.Triggered = false
	arr.Error = false
	arr.Pulses++
}

// Carrier is an in-memory AMC carrier.
type Carrier struct {
	Arrays []Array
	DRAM   []uint64

	max   int
	calls map[string]int
	fails map[string]error
}

// New creates a carrier with n arrays and size bytes of DRAM.
// DRAM reads are limited to maxElems elements per call.
func New(n, size, maxElems int) *Carrier {
	return &Carrier{
		Arrays: make([]Array, n),
		DRAM:   make([]uint64, size/8),
		max:    maxElems,
		calls:  make(map[string]int),
		fails:  make(map[string]error),
	}
}

// Calls returns the number of Get calls issued on the named register leaf
// (e.g. "WrAddr" or "dram").
func (c *Carrier) Calls(leaf string) int { return c.calls[leaf] }

// ResetCalls clears the call counters.
func (c *Carrier) ResetCalls() {
	for k := range c.calls {
		delete(c.calls, k)
	}
}

// Fail makes every subsequent access to the named register leaf fail
// with err. A nil error removes the failure.
func (c *Carrier) Fail(leaf string, err error) {
	if err == nil {
		delete(c.fails, leaf)
		return
	}
	c.fails[leaf] = err
}

// Setup assigns a region to array i, as the directory initialization does,
// and leaves the array empty.
func (c *Carrier) Setup(i int, start, end uint64) {
	arr := &c.Arrays[i]
	arr.StartAddr = start
	arr.EndAddr = end
	arr.Enabled = true
	arr.init()
	arr.Pulses = 0
}

// Push writes entries at the write pointer of array i, wrapping around
// the end of its region and latching the full flag when it does.
func (c *Carrier) Push(i int, es ...entry.Entry) {
	arr := &c.Arrays[i]
	for k := range es {
		es[k].Store(c.DRAM[arr.WrAddr/8:])
		arr.WrAddr += entry.Size
		if arr.WrAddr >= arr.EndAddr {
			arr.WrAddr = arr.StartAddr
			arr.Full = true
		}
		arr.Empty = false
	}
}

// Endpoint implements remote.Transport.
func (c *Carrier) Endpoint(name string) (remote.Endpoint, error) {
	leaf := path.Base(name)
	if leaf == "MemoryArray" {
		switch path.Base(path.Dir(name)) {
		case "Timestamps":
			leaf = "TimeStamp"
		case "BufferInit":
			leaf = "Clear"
		}
	}
	if strings.EqualFold(leaf, "dram") {
		return &endpoint{c: c, leaf: "dram"}, nil
	}
	switch leaf {
	case "TimeStamp", "StartAddr", "EndAddr", "WrAddr", "TriggerAddr",
		"Enabled", "Mode", "Init", "SoftTrigger",
		"Status", "Empty", "Full", "Done", "Triggered", "Error",
		"Clear":
		return &endpoint{c: c, leaf: leaf}, nil
	}
	return nil, fmt.Errorf("fakeamc: unknown register %q", name)
}

type endpoint struct {
	c    *Carrier
	leaf string
}

func (ep *endpoint) Len() int {
	if ep.leaf == "dram" {
		return len(ep.c.DRAM)
	}
	return len(ep.c.Arrays)
}

func (ep *endpoint) MaxElems() int {
	if ep.leaf == "dram" {
		return ep.c.max
	}
	return 0
}

func (ep *endpoint) check(i, n int) error {
	if err := ep.c.fails[ep.leaf]; err != nil {
		return fmt.Errorf("fakeamc: %s: %v: %w", ep.leaf, err, remote.ErrAccess)
	}
	if i < 0 || i+n > ep.Len() {
		return remote.Errorf("fakeamc: %s[%d:%d] out of range", ep.leaf, i, i+n)
	}
	if max := ep.MaxElems(); max > 0 && n > max {
		return remote.Errorf("fakeamc: %s transfer of %d elements exceeds %d", ep.leaf, n, max)
	}
	return nil
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (ep *endpoint) Get(dst []uint64, i int) error {
	ep.c.calls[ep.leaf]++
	err := ep.check(i, len(dst))
	if err != nil {
		return err
	}
	if ep.leaf == "dram" {
		copy(dst, ep.c.DRAM[i:])
		return nil
	}
	for k := range dst {
		arr := &ep.c.Arrays[i+k]
		var v uint64
		switch ep.leaf {
		case "TimeStamp":
			v = arr.TimeStamp
		case "StartAddr":
			v = arr.StartAddr
		case "EndAddr":
			v = arr.EndAddr
		case "WrAddr":
			v = arr.WrAddr
		case "TriggerAddr":
			v = arr.TriggerAddr
		case "Enabled":
			v = b2u(arr.Enabled)
		case "Mode":
			v = b2u(arr.Mode)
		case "Init":
			v = b2u(arr.Init)
		case "SoftTrigger":
			v = b2u(arr.SoftTrigger)
		case "Status":
			v = uint64(arr.Status())
		case "Empty":
			v = b2u(arr.Empty)
		case "Full":
			v = b2u(arr.Full)
		case "Done":
			v = b2u(arr.Done)
		case "Triggered":
			v = b2u(arr.Triggered)
		case "Error":
			v = b2u(arr.Error)
		case "Clear":
			v = b2u(arr.Clear)
		}
		dst[k] = v
	}
	return nil
}

func (ep *endpoint) Set(src []uint64, i int) error {
	err := ep.check(i, len(src))
	if err != nil {
		return err
	}
	if ep.leaf == "dram" {
		copy(ep.c.DRAM[i:], src)
		return nil
	}
	for k, v := range src {
		arr := &ep.c.Arrays[i+k]
		switch ep.leaf {
		case "StartAddr":
			arr.StartAddr = v
		case "EndAddr":
			arr.EndAddr = v
		case "Enabled":
			arr.Enabled = v != 0
		case "Mode":
			arr.Mode = v != 0
		case "Init":
			if v != 0 && !arr.Init {
				arr.init()
			}
			arr.Init = v != 0
		case "SoftTrigger":
			arr.SoftTrigger = v != 0
		case "Clear":
			arr.Clear = v != 0
		default:
			return remote.Errorf("fakeamc: %s is read-only", ep.leaf)
		}
	}
	return nil
}

var (
	_ remote.Transport = (*Carrier)(nil)
	_ remote.Endpoint  = (*endpoint)(nil)
)
