// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmio implements a remote.Transport on top of memory-mapped
// BSA buffer-control registers and DRAM, as exposed through /dev/mem.
package mmio // import "github.com/go-lpc/bsa/remote/mmio"

import (
	"encoding/binary"
	"fmt"
	"path"
	"strings"

	"github.com/go-lpc/bsa/internal/mmap"
	"github.com/go-lpc/bsa/remote"
)

// Register map of the BSA buffer-control block.
const (
	NumArrays = 64

	offTimeStamp   = 0x0000
	offStartAddr   = 0x1000
	offEndAddr     = 0x1200
	offWrAddr      = 0x1400
	offTriggerAddr = 0x1600
	offControl     = 0x1800
	offStatus      = 0x1a00
	offClear       = 0x1c00

	// RegSpan is the size of the mapped register block.
	RegSpan = 0x2000
)

type config struct {
	regBase  int64
	dramBase int64
	dramSize int
	maxElems int
}

// Option configures a memory-mapped transport.
type Option func(*config)

// WithRegisters sets the physical address of the buffer-control block.
func WithRegisters(base int64) Option {
	return func(cfg *config) {
		cfg.regBase = base
	}
}

// WithDRAM sets the physical address and size (in bytes) of the DRAM
// holding the BSA buffers.
func WithDRAM(base int64, size int) Option {
	return func(cfg *config) {
		cfg.dramBase = base
		cfg.dramSize = size
	}
}

// WithMaxElems limits the number of DRAM elements transferred per call.
func WithMaxElems(n int) Option {
	return func(cfg *config) {
		cfg.maxElems = n
	}
}

// Transport gives access to the BSA registers and DRAM of a carrier.
type Transport struct {
	regs *mmap.Handle
	dram *mmap.Handle
	max  int
}

// Open maps the buffer-control registers and the DRAM out of fname.
func Open(fname string, opts ...Option) (*Transport, error) {
	cfg := config{
		regBase:  0,
		dramBase: RegSpan,
		dramSize: 1 << 20,
		maxElems: 512,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	regs, err := mmap.Open(fname, cfg.regBase, RegSpan)
	if err != nil {
		return nil, fmt.Errorf("mmio: could not map registers: %w", err)
	}

	dram, err := mmap.Open(fname, cfg.dramBase, cfg.dramSize)
	if err != nil {
		_ = regs.Close()
		return nil, fmt.Errorf("mmio: could not map dram: %w", err)
	}

	return &Transport{regs: regs, dram: dram, max: cfg.maxElems}, nil
}

// Close unmaps the registers and the DRAM.
func (tr *Transport) Close() error {
	errR := tr.regs.Close()
	errD := tr.dram.Close()
	if errR != nil {
		return fmt.Errorf("mmio: could not unmap registers: %w", errR)
	}
	if errD != nil {
		return fmt.Errorf("mmio: could not unmap dram: %w", errD)
	}
	return nil
}

// Endpoint resolves the named register.
//
// Register names are matched on their last path element, so that both
// the "mmio/control/WrAddr" and "mmio/BsaBufferControl/BsaBuffers/WrAddr"
// spellings resolve to the same register. The "Timestamps/MemoryArray"
// and "BufferInit/MemoryArray" arrays are also recognized.
func (tr *Transport) Endpoint(name string) (remote.Endpoint, error) {
	leaf := path.Base(name)
	if leaf == "MemoryArray" {
		leaf = path.Base(path.Dir(name))
	}
	if strings.EqualFold(leaf, "dram") {
		return &dram{h: tr.dram, name: name, max: tr.max}, nil
	}

	u64 := func(off int64, ro bool) *field {
		return &field{h: tr.regs, name: name, off: off, stride: 8, width: 8, ro: ro}
	}
	bit := func(off int64, shift uint, ro bool) *field {
		return &field{h: tr.regs, name: name, off: off, stride: 4, width: 4, mask: 1, shift: shift, ro: ro}
	}

	switch leaf {
	case "TimeStamp", "Timestamps":
		return u64(offTimeStamp, true), nil
	case "StartAddr":
		return u64(offStartAddr, false), nil
	case "EndAddr":
		return u64(offEndAddr, false), nil
	case "WrAddr":
		return u64(offWrAddr, true), nil
	case "TriggerAddr":
		return u64(offTriggerAddr, true), nil
	case "Enabled":
		return bit(offControl, 0, false), nil
	case "Mode":
		return bit(offControl, 1, false), nil
	case "Init":
		return bit(offControl, 2, false), nil
	case "SoftTrigger":
		return bit(offControl, 3, false), nil
	case "Status":
		return &field{h: tr.regs, name: name, off: offStatus, stride: 4, width: 4, mask: 0xffffffff, ro: true}, nil
	case "Empty":
		return bit(offStatus, 0, true), nil
	case "Full":
		return bit(offStatus, 1, true), nil
	case "Done":
		return bit(offStatus, 2, true), nil
	case "Triggered":
		return bit(offStatus, 3, true), nil
	case "Error":
		return bit(offStatus, 4, true), nil
	case "Clear", "BufferInit":
		return &field{h: tr.regs, name: name, off: offClear, stride: 4, width: 4, mask: 0xffffffff}, nil
	}
	return nil, fmt.Errorf("mmio: unknown register %q", name)
}

// field is an indexed register (one element per BSA array).
type field struct {
	h      *mmap.Handle
	name   string
	off    int64
	stride int64
	width  int // in bytes
	mask   uint32
	shift  uint
	ro     bool
}

func (f *field) Len() int      { return NumArrays }
func (f *field) MaxElems() int { return 0 }

func (f *field) Get(dst []uint64, i int) error {
	if i < 0 || i+len(dst) > NumArrays {
		return remote.Errorf("mmio: %s[%d:%d] out of range", f.name, i, i+len(dst))
	}
	for k := range dst {
		off := f.off + int64(i+k)*f.stride
		switch f.width {
		case 8:
			v, err := f.h.Uint64At(off)
			if err != nil {
				return remote.Errorf("mmio: could not read %s[%d]: %v", f.name, i+k, err)
			}
			dst[k] = v
		default:
			v, err := f.h.Uint32At(off)
			if err != nil {
				return remote.Errorf("mmio: could not read %s[%d]: %v", f.name, i+k, err)
			}
			dst[k] = uint64((v >> f.shift) & f.mask)
		}
	}
	return nil
}

func (f *field) Set(src []uint64, i int) error {
	if f.ro {
		return remote.Errorf("mmio: %s is read-only", f.name)
	}
	if i < 0 || i+len(src) > NumArrays {
		return remote.Errorf("mmio: %s[%d:%d] out of range", f.name, i, i+len(src))
	}
	for k, v := range src {
		off := f.off + int64(i+k)*f.stride
		switch f.width {
		case 8:
			err := f.h.PutUint64At(off, v)
			if err != nil {
				return remote.Errorf("mmio: could not write %s[%d]: %v", f.name, i+k, err)
			}
		default:
			old, err := f.h.Uint32At(off)
			if err != nil {
				return remote.Errorf("mmio: could not read %s[%d]: %v", f.name, i+k, err)
			}
			m := f.mask << f.shift
			old = old&^m | (uint32(v)<<f.shift)&m
			err = f.h.PutUint32At(off, old)
			if err != nil {
				return remote.Errorf("mmio: could not write %s[%d]: %v", f.name, i+k, err)
			}
		}
	}
	return nil
}

// dram exposes the BSA DRAM as 64-bit elements.
type dram struct {
	h    *mmap.Handle
	name string
	max  int
	buf  []byte
}

func (d *dram) Len() int      { return d.h.Len() / 8 }
func (d *dram) MaxElems() int { return d.max }

func (d *dram) bytes(n int) []byte {
	if sz := 8 * n; sz > len(d.buf) {
		d.buf = make([]byte, sz)
	}
	return d.buf[:8*n]
}

func (d *dram) Get(dst []uint64, i int) error {
	if d.max > 0 && len(dst) > d.max {
		return remote.Errorf("mmio: %s read of %d elements exceeds %d", d.name, len(dst), d.max)
	}
	buf := d.bytes(len(dst))
	_, err := d.h.ReadAt(buf, int64(i)*8)
	if err != nil {
		return remote.Errorf("mmio: could not read %s[%d:%d]: %v", d.name, i, i+len(dst), err)
	}
	for k := range dst {
		dst[k] = binary.LittleEndian.Uint64(buf[8*k:])
	}
	return nil
}

func (d *dram) Set(src []uint64, i int) error {
	if d.max > 0 && len(src) > d.max {
		return remote.Errorf("mmio: %s write of %d elements exceeds %d", d.name, len(src), d.max)
	}
	buf := d.bytes(len(src))
	for k, v := range src {
		binary.LittleEndian.PutUint64(buf[8*k:], v)
	}
	_, err := d.h.WriteAt(buf, int64(i)*8)
	if err != nil {
		return remote.Errorf("mmio: could not write %s[%d:%d]: %v", d.name, i, i+len(src), err)
	}
	return nil
}

var (
	_ remote.Transport = (*Transport)(nil)
	_ remote.Endpoint  = (*field)(nil)
	_ remote.Endpoint  = (*dram)(nil)
)
