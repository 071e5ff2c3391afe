// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amc

import (
	"log"
)

const (
	defaultStandard = 44
	defaultArrays   = 48

	defaultStdEntries   = 1 << 15
	defaultFaultEntries = 1 << 20

	defaultBlock = 4096 >> 3 // in 64-bit elements
	defaultQuota = 4096      // in entries
)

type config struct {
	msg    *log.Logger
	layout Layout

	nstd    int // number of standard arrays
	narrays int // total number of arrays

	stdEntries   int // entries per standard array
	faultEntries int // entries per fault array

	block int // elements per DRAM read
	quota int // entries per incremental read
}

func newConfig() config {
	return config{
		layout:       CarrierLayout(),
		nstd:         defaultStandard,
		narrays:      defaultArrays,
		stdEntries:   defaultStdEntries,
		faultEntries: defaultFaultEntries,
		block:        defaultBlock,
		quota:        defaultQuota,
	}
}

// Option configures a Directory.
type Option func(*config)

// WithLogger sets the logger used to report recoverable anomalies.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithLayout sets the register names of the buffer-control block.
func WithLayout(layout Layout) Option {
	return func(cfg *config) {
		cfg.layout = layout
	}
}

// WithArrays sets the number of standard arrays and the total number
// of arrays. Arrays [0, std) are standard, arrays [std, total) are
// fault arrays.
func WithArrays(std, total int) Option {
	return func(cfg *config) {
		cfg.nstd = std
		cfg.narrays = total
	}
}

// WithStdEntries sets the number of entries of each standard array.
func WithStdEntries(n int) Option {
	return func(cfg *config) {
		cfg.stdEntries = n
	}
}

// WithFaultEntries sets the number of entries of each fault array.
func WithFaultEntries(n int) Option {
	return func(cfg *config) {
		cfg.faultEntries = n
	}
}

// WithBlock sets the maximum number of 64-bit elements read from the
// DRAM in one remote call.
func WithBlock(n int) Option {
	return func(cfg *config) {
		cfg.block = n
	}
}

// WithQuota sets the number of entries read per incremental read.
func WithQuota(n int) Option {
	return func(cfg *config) {
		cfg.quota = n
	}
}
