// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.Uint32At(0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid u32 error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.PutUint64At(0, 1)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid u64 error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleFrom(t *testing.T) {
	h := handleFrom([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})

	if got, want := h.Len(), 12; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	v32, err := h.Uint32At(1)
	if err != nil {
		t.Fatalf("could not read u32: %+v", err)
	}
	if got, want := v32, uint32(0x04030201); got != want {
		t.Fatalf("invalid u32: got=0x%x, want=0x%x", got, want)
	}

	err = h.PutUint64At(4, 0x1122334455667788)
	if err != nil {
		t.Fatalf("could not write u64: %+v", err)
	}
	v64, err := h.Uint64At(4)
	if err != nil {
		t.Fatalf("could not read u64: %+v", err)
	}
	if got, want := v64, uint64(0x1122334455667788); got != want {
		t.Fatalf("invalid u64: got=0x%x, want=0x%x", got, want)
	}

	_, err = h.Uint64At(5)
	if got, want := err.Error(), "mmap: invalid offset 5"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestOpen(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "devmem")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create fake dev-mem: %+v", err)
	}
	defer f.Close()

	pgsz := os.Getpagesize()
	_, err = f.WriteAt([]byte{1}, int64(2*pgsz-1))
	if err != nil {
		t.Fatalf("could not write to dev-mem: %+v", err)
	}
	err = f.Close()
	if err != nil {
		t.Fatalf("could not close dev-mem: %+v", err)
	}

	h, err := Open(fname, int64(pgsz), pgsz)
	if err != nil {
		t.Fatalf("could not mmap dev-mem: %+v", err)
	}
	defer h.Close()

	if got, want := h.Len(), pgsz; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	v, err := h.Uint32At(int64(pgsz - 4))
	if err != nil {
		t.Fatalf("could not read u32: %+v", err)
	}
	if got, want := v, uint32(1)<<24; got != want {
		t.Fatalf("invalid u32: got=0x%x, want=0x%x", got, want)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close mmap handle: %+v", err)
	}

	_, err = Open(filepath.Join(t.TempDir(), "not-there"), 0, pgsz)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
