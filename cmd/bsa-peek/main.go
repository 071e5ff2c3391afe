// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bsa-peek is an interactive shell to inspect the BSA buffers
// of an AMC carrier.
//
// Usage:
//
//	$> bsa-peek [OPTIONS]
//	bsa> dump
//	bsa> state 3
//	bsa> get 3 0x1800
//	bsa> quit
package main // import "github.com/go-lpc/bsa/cmd/bsa-peek"

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-lpc/bsa/amc"
	"github.com/go-lpc/bsa/remote/mmio"
	"github.com/peterh/liner"
)

func main() {
	var (
		devmem   = flag.String("dev", "/dev/mem", "path to the physical memory device")
		regs     = flag.Int64("regs", 0xa0000000, "physical address of the buffer-control registers")
		dram     = flag.Int64("dram", 0x80000000, "physical address of the BSA DRAM")
		dramSize = flag.Int("dram-size", 1<<31, "size in bytes of the BSA DRAM")
		yaml     = flag.Bool("yaml", false, "use the YAML-built register layout")
		nstd     = flag.Int("std", 44, "number of standard arrays")
		narrays  = flag.Int("arrays", 48, "total number of arrays")
	)

	log.SetPrefix("bsa-peek: ")
	log.SetFlags(0)

	flag.Parse()

	tr, err := mmio.Open(
		*devmem,
		mmio.WithRegisters(*regs),
		mmio.WithDRAM(*dram, *dramSize),
	)
	if err != nil {
		log.Fatalf("could not open %q: %+v", *devmem, err)
	}
	defer tr.Close()

	layout := amc.CarrierLayout()
	if *yaml {
		layout = amc.YamlLayout("mmio", "strm/dram")
	}

	dir, err := amc.New(
		tr,
		amc.WithLayout(layout),
		amc.WithArrays(*nstd, *narrays),
		amc.WithLogger(log.New(os.Stdout, "amc: ", 0)),
	)
	if err != nil {
		log.Fatalf("could not create buffer directory: %+v", err)
	}

	err = shell(dir, os.Stdout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var cmds = []string{
	"buffer", "dump", "get", "help", "init", "quit", "record", "reset", "ring", "state",
}

func shell(dir *amc.Directory, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range cmds {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}
		return out
	})

	hist := filepath.Join(os.TempDir(), ".bsa-peek.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("bsa> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintf(w, "\n")
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := exec(w, dir, line)
		if err != nil {
			fmt.Fprintf(w, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// exec runs one shell command against dir.
func exec(w io.Writer, dir *amc.Directory, line string) (quit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "h", "?":
		fmt.Fprintf(w, `commands:
  dump                  status table of all arrays
  state  <array>        timestamp, write pointer and flags of an array
  ring   <array>        begin, end and write pointers of an array
  get    <array> [addr] entries written since addr (default: region start)
  record <array> [mask] all entries of an array, channels selected by mask
  buffer <begin> <end>  hex dump of the DRAM bytes in [begin, end)
  reset  <array>        pulse the init control of an array
  init                  partition the DRAM and initialize all arrays
  quit                  leave the shell
`)
		return false, nil

	case "dump":
		return false, dir.Dump(w)

	case "init":
		err = dir.Initialize()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "initialized %d arrays\n", dir.NumArrays())
		return false, nil

	case "buffer":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: buffer <begin> <end>")
		}
		beg, err := parseU64(args[0])
		if err != nil {
			return false, err
		}
		end, err := parseU64(args[1])
		if err != nil {
			return false, err
		}
		buf, err := dir.Buffer(beg, end)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "%s", hex.Dump(buf))
		return false, nil
	}

	switch cmd {
	case "state", "ring", "get", "record", "reset":
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	if len(args) == 0 {
		return false, fmt.Errorf("usage: %s <array>", cmd)
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return false, fmt.Errorf("invalid array index %q: %w", args[0], err)
	}

	switch cmd {
	case "state":
		st, err := dir.State(i)
		if err != nil {
			return false, err
		}
		status, err := dir.Status(i)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "array=%d time=%d.%09d wr=0x%x clear=%v wrap=%v status=0x%02x fault=%v\n",
			i, st.Timestamp>>32, uint32(st.Timestamp), st.WrAddr, st.Clear, st.Wrap,
			status, dir.IsFault(i),
		)

	case "ring":
		rs, err := dir.Ring(i)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "array=%d begin=0x%x end=0x%x next=0x%x\n", i, rs.Begin, rs.End, rs.Next)

	case "get":
		var beg uint64
		switch {
		case len(args) > 1:
			beg, err = parseU64(args[1])
		default:
			var reg amc.Region
			reg, err = dir.Region(i)
			beg = reg.Begin
		}
		if err != nil {
			return false, err
		}
		rec, next, err := dir.Get(i, beg)
		if err != nil {
			return false, err
		}
		err = rec.Dump(w, 0)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "next=0x%x\n", next)

	case "record":
		mask := uint64(0x7fffffff)
		if len(args) > 1 {
			mask, err = parseU64(args[1])
			if err != nil {
				return false, err
			}
		}
		rec, err := dir.Record(i)
		if err != nil {
			return false, err
		}
		return false, rec.Dump(w, uint32(mask))

	case "reset":
		return false, dir.Reset(i)
	}

	return false, nil
}

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return v, nil
}
