// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// lcio-dump decodes and displays BSA entries embedded in LCIO files.
//
// Usage: lcio-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> lcio-dump -array=2 -chans=0x3 ./bsa.lcio
//	=== evt 0 array 2 ===
//	pulse:  0x0000000000000042
//	time:   1655901312.000000042
//	  [ 0] n=   1 mean=3.5 rms2=0
//	  [ 1] n=   1 mean=NaN rms2=NaN
//	[...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/bsa/sink"
	"go-hep.org/x/hep/lcio"
)

const usage = `lcio-dump decodes and displays BSA entries embedded in LCIO files.

Usage: lcio-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> lcio-dump -array=2 -chans=0x3 ./bsa.lcio
 === evt 0 array 2 ===
 pulse:  0x0000000000000042
 time:   1655901312.000000042
   [ 0] n=   1 mean=3.5 rms2=0
   [ 1] n=   1 mean=NaN rms2=NaN
 [...]

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("lcio-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("lcio", flag.ExitOnError)

		array = fset.Int("array", -1, "array to display (-1: all)")
		chans = fset.Uint64("chans", 0x7fffffff, "mask of channels to display")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input LCIO file")
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, *array, uint32(*chans))
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, array int, mask uint32) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	for r.Next() {
		evt := r.Event()
		e, err := sink.Decode(&evt)
		if err != nil {
			return fmt.Errorf("could not decode BSA entry: %w", err)
		}
		if array >= 0 && e.Array != array {
			continue
		}
		fmt.Fprintf(wbuf, "=== evt %d array %d ===\n", evt.EventNumber, e.Array)
		fmt.Fprintf(wbuf, "pulse:  0x%016x\n", e.PulseID)
		fmt.Fprintf(wbuf, "time:   %d.%09d\n", e.Sec, e.Nsec)
		for k := range e.Mean {
			if k >= 32 || mask&(1<<k) == 0 {
				continue
			}
			fmt.Fprintf(wbuf, "  [%2d] n=% 4d mean=%g rms2=%g\n",
				k, e.N[k], e.Mean[k], e.RMS2[k],
			)
		}
	}

	err = r.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not read LCIO file: %w", err)
	}

	return wbuf.Flush()
}
