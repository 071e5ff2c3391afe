// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides access to memory-mapped device registers.
package mmap // import "github.com/go-lpc/bsa/internal/mmap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

type Handle struct {
	data []byte
}

// Open maps size bytes of the named file (usually /dev/mem),
// starting at offset off.
func Open(fname string, off int64, size int) (*Handle, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	defer f.Close()

	data, err := unix.Mmap(
		int(f.Fd()), off, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not mmap %q [0x%x, 0x%x): %w",
			fname, off, off+int64(size), err,
		)
	}

	return handleFrom(data), nil
}

func handleFrom(data []byte) *Handle {
	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped file.
func (h *Handle) Len() int {
	return len(h.data)
}

func (h *Handle) check(off int64, n int) error {
	if h == nil {
		return os.ErrInvalid
	}
	if h.data == nil {
		return errClosed
	}
	if off < 0 || int64(len(h.data)) < off+int64(n) {
		return fmt.Errorf("mmap: invalid offset %d", off)
	}
	return nil
}

// Uint32At returns the little-endian 32-bit word at offset off.
func (h *Handle) Uint32At(off int64) (uint32, error) {
	err := h.check(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(h.data[off:]), nil
}

// PutUint32At writes the little-endian 32-bit word v at offset off.
func (h *Handle) PutUint32At(off int64, v uint32) error {
	err := h.check(off, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(h.data[off:], v)
	return nil
}

// Uint64At returns the little-endian 64-bit word at offset off.
func (h *Handle) Uint64At(off int64) (uint64, error) {
	err := h.check(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(h.data[off:]), nil
}

// PutUint64At writes the little-endian 64-bit word v at offset off.
func (h *Handle) PutUint64At(off int64, v uint64) error {
	err := h.check(off, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(h.data[off:], v)
	return nil
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	err := h.check(off, 0)
	if err != nil {
		if errors.Is(err, os.ErrInvalid) || errors.Is(err, errClosed) {
			return 0, err
		}
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	err := h.check(off, 0)
	if err != nil {
		if errors.Is(err, os.ErrInvalid) || errors.Is(err, errClosed) {
			return 0, err
		}
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
