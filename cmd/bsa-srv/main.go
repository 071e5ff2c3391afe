// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bsa-srv starts a TDAQ server streaming the BSA entries of an
// AMC carrier on its /bsa output port.
package main // import "github.com/go-lpc/bsa/cmd/bsa-srv"

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/bsa/amc"
	"github.com/go-lpc/bsa/remote"
	"github.com/go-lpc/bsa/remote/mmio"
)

func main() {
	var (
		devmem   = flag.String("dev", "/dev/mem", "path to the physical memory device")
		regs     = flag.Int64("regs", 0xa0000000, "physical address of the buffer-control registers")
		dram     = flag.Int64("dram", 0x80000000, "physical address of the BSA DRAM")
		dramSize = flag.Int("dram-size", 1<<31, "size in bytes of the BSA DRAM")
		freq     = flag.Duration("freq", 100*time.Millisecond, "polling interval")
	)

	cmd := flags.New()

	srv := newServer(
		func() (remote.Transport, error) {
			return mmio.Open(
				*devmem,
				mmio.WithRegisters(*regs),
				mmio.WithDRAM(*dram, *dramSize),
			)
		},
		*freq,
		amc.WithLogger(log.New(os.Stdout, "amc: ", 0)),
	)

	dev := tdaq.New(cmd, os.Stdout)
	dev.CmdHandle("/config", srv.OnConfig)
	dev.CmdHandle("/init", srv.OnInit)
	dev.CmdHandle("/reset", srv.OnReset)
	dev.CmdHandle("/start", srv.OnStart)
	dev.CmdHandle("/stop", srv.OnStop)
	dev.CmdHandle("/quit", srv.OnQuit)

	dev.OutputHandle("/bsa", srv.output)

	dev.RunHandle(srv.run)

	err := dev.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
