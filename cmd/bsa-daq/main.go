// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bsa-daq polls the BSA buffers of an AMC carrier and writes the
// acquired entries to an LCIO file.
package main // import "github.com/go-lpc/bsa/cmd/bsa-daq"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/bsa"
	"github.com/go-lpc/bsa/amc"
	"github.com/go-lpc/bsa/conddb"
	"github.com/go-lpc/bsa/entry"
	"github.com/go-lpc/bsa/proc"
	"github.com/go-lpc/bsa/remote"
	"github.com/go-lpc/bsa/remote/mmio"
	"github.com/go-lpc/bsa/sink"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		devmem   = flag.String("dev", "/dev/mem", "path to the physical memory device")
		regs     = flag.Int64("regs", 0xa0000000, "physical address of the buffer-control registers")
		dram     = flag.Int64("dram", 0x80000000, "physical address of the BSA DRAM")
		dramSize = flag.Int("dram-size", 1<<31, "size in bytes of the BSA DRAM")
		yaml     = flag.Bool("yaml", false, "use the YAML-built register layout")

		nstd    = flag.Int("std", 44, "number of standard arrays")
		narrays = flag.Int("arrays", 48, "total number of arrays")
		stdN    = flag.Int("std-entries", 1<<15, "entries per standard array")
		faultN  = flag.Int("fault-entries", 1<<20, "entries per fault array")
		doInit  = flag.Bool("init", false, "partition the DRAM and initialize all arrays")

		runnbr = flag.Int("run", 0, "run number")
		oname  = flag.String("o", "bsa.lcio", "output LCIO file")
		freq   = flag.Duration("freq", 100*time.Millisecond, "polling interval")
		dbname = flag.String("db", "", "condition DB holding the channel map")
		alerts = flag.Int("alert", 10, "number of consecutive aborts of an array before a mail alert (0 to disable)")

		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		monDir = flag.String("pmon-dir", os.TempDir(), "directory of the pmon log file")
	)

	log.SetPrefix("bsa-daq: ")
	log.SetFlags(0)

	flag.Parse()

	if v, _ := bsa.Version(); v != "" {
		log.Printf("version: %s", v)
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *doMon {
		mon, err := monitor(*monDir, *freq)
		if err != nil {
			log.Fatalf("could not start pmon: %+v", err)
		}
		defer mon()
	}

	err = run(ctx, tr, config{
		layout:  layout,
		nstd:    *nstd,
		narrays: *narrays,
		stdN:    *stdN,
		faultN:  *faultN,
		init:    *doInit,
		run:     int32(*runnbr),
		oname:   *oname,
		freq:    *freq,
		dbname:  *dbname,
		alerts:  *alerts,
		alert:   alertMail,
	})
	if err != nil {
		log.Fatalf("could not run bsa-daq: %+v", err)
	}
}

type config struct {
	layout  amc.Layout
	nstd    int
	narrays int
	stdN    int
	faultN  int
	block   int
	quota   int
	init    bool

	run    int32
	oname  string
	freq   time.Duration
	dbname string

	alerts int
	alert  func(a alert) error
}

func (cfg config) options(msg *log.Logger) []amc.Option {
	opts := []amc.Option{
		amc.WithLogger(msg),
		amc.WithLayout(cfg.layout),
		amc.WithArrays(cfg.nstd, cfg.narrays),
		amc.WithStdEntries(cfg.stdN),
		amc.WithFaultEntries(cfg.faultN),
	}
	if cfg.block > 0 {
		opts = append(opts, amc.WithBlock(cfg.block))
	}
	if cfg.quota > 0 {
		opts = append(opts, amc.WithQuota(cfg.quota))
	}
	return opts
}

func run(ctx context.Context, tr remote.Transport, cfg config) error {
	msg := log.New(os.Stdout, "bsa-daq: ", 0)

	dir, err := amc.New(tr, cfg.options(msg)...)
	if err != nil {
		return fmt.Errorf("could not create buffer directory: %w", err)
	}

	if cfg.init {
		err = dir.Initialize()
		if err != nil {
			return fmt.Errorf("could not initialize buffers: %w", err)
		}
	}

	chans, err := channels(ctx, cfg.dbname, dir.NumArrays())
	if err != nil {
		return fmt.Errorf("could not retrieve channel map: %w", err)
	}

	f, err := sink.Create(cfg.oname, cfg.run)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	sinks := make([]proc.ArraySink, dir.NumArrays())
	for i := range sinks {
		sinks[i] = f.Array(i, conddb.Kinds(chans, i)...)
	}

	grp, ctx := errgroup.WithContext(ctx)

	mon := newWatcher(cfg.alerts)
	p, err := proc.New(
		dir,
		proc.WithLogger(msg),
		proc.WithAbortHandler(mon.abort),
	)
	if err != nil {
		return fmt.Errorf("could not create processor: %w", err)
	}

	grp.Go(func() error {
		defer mon.close()
		return poll(ctx, p, sinks, mon, cfg.freq)
	})

	grp.Go(func() error {
		for a := range mon.alerts {
			if cfg.alert == nil {
				continue
			}
			err := cfg.alert(a)
			if err != nil {
				msg.Printf("could not send alert for array %d: %+v", a.array, err)
			}
		}
		return nil
	})

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run acquisition: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	msg.Printf("wrote %d entries to %q", f.Events(), cfg.oname)

	return nil
}

func poll(ctx context.Context, p *proc.Processor, sinks []proc.ArraySink, mon *watcher, freq time.Duration) error {
	tick := time.NewTicker(freq)
	defer tick.Stop()

	for {
		mask := p.Pending()
		for i, sink := range sinks {
			if mask&(1<<i) == 0 {
				continue
			}
			if p.Update(sink) > 0 {
				mon.ok(i)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// channels returns the channel map of n arrays, from the condition DB
// dbname, or a map of Int32 channels filling all slots.
func channels(ctx context.Context, dbname string, n int) (map[int][]conddb.Channel, error) {
	if dbname == "" {
		chans := make(map[int][]conddb.Channel, n)
		for i := 0; i < n; i++ {
			chans[i] = make([]conddb.Channel, entry.MaxChannels)
			for k := range chans[i] {
				chans[i][k] = conddb.Channel{
					Array: i,
					Slot:  k,
					Name:  fmt.Sprintf("A%02d:CH%02d", i, k),
					Kind:  proc.Int32,
				}
			}
		}
		return chans, nil
	}

	db, err := conddb.Open(dbname)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.Channels(ctx)
}

func monitor(dir string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not monitor bsa-daq: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "bsa-daq-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop pmon: %+v", err)
		}
		_ = f.Close()
	}, nil
}
