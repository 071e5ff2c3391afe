// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote describes the register-access contract used to reach
// the BSA buffers of an AMC carrier.
//
// A Transport resolves hierarchical register names into indexed
// endpoints. Endpoints are read and written one element range at a
// time; the DRAM holding the buffers is exposed as one more endpoint
// whose elements are 64-bit words.
package remote // import "github.com/go-lpc/bsa/remote"

import (
	"errors"
	"fmt"
)

// ErrAccess is returned (wrapped) by transports for any failure
// to reach the remote device: timeouts, protocol errors or
// out-of-range indices.
var ErrAccess = errors.New("remote: access failure")

// Endpoint is an indexed register (or memory) of the remote device.
type Endpoint interface {
	// Len returns the number of addressable elements.
	Len() int
	// MaxElems returns the maximum number of elements a single
	// Get or Set call may transfer. Zero means unbounded.
	MaxElems() int

	// Get reads len(dst) elements starting at index i.
	Get(dst []uint64, i int) error
	// Set writes len(src) elements starting at index i.
	Set(src []uint64, i int) error
}

// Transport resolves register names into endpoints.
type Transport interface {
	Endpoint(name string) (Endpoint, error)
}

// Read reads len(dst) elements starting at index i, splitting
// the transfer into chunks of at most block elements (or the
// endpoint's own limit, if smaller).
func Read(ep Endpoint, dst []uint64, i, block int) error {
	block = chunk(ep, block)
	for beg := 0; beg < len(dst); beg += block {
		end := beg + block
		if end > len(dst) {
			end = len(dst)
		}
		err := ep.Get(dst[beg:end], i+beg)
		if err != nil {
			return err
		}
	}
	return nil
}

// Write writes len(src) elements starting at index i, splitting
// the transfer like Read does.
func Write(ep Endpoint, src []uint64, i, block int) error {
	block = chunk(ep, block)
	for beg := 0; beg < len(src); beg += block {
		end := beg + block
		if end > len(src) {
			end = len(src)
		}
		err := ep.Set(src[beg:end], i+beg)
		if err != nil {
			return err
		}
	}
	return nil
}

func chunk(ep Endpoint, block int) int {
	if max := ep.MaxElems(); max > 0 && (block <= 0 || max < block) {
		block = max
	}
	if block <= 0 {
		block = ep.Len()
	}
	if block <= 0 {
		block = 1
	}
	return block
}

// Errorf returns an error wrapping ErrAccess.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrAccess)
}
