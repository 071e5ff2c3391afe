// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bsa-sql displays the buffer configuration and the channel map
// stored in the BSA condition database.
package main // import "github.com/go-lpc/bsa/cmd/bsa-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-lpc/bsa/conddb"
)

func main() {
	log.SetPrefix("bsa-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "bsa", "name of the BSA condition database")
		array  = flag.Int("array", -1, "array to inspect (-1: all)")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open BSA db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *array)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(w io.Writer, db *conddb.DB, array int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := db.LastConfig(ctx)
	if err != nil {
		return fmt.Errorf("could not get last buffer cfg: %w", err)
	}
	fmt.Fprintf(w, "cfg:    %q\n", cfg.Name)
	fmt.Fprintf(w, "arrays: %d (std=%d, fault=%d)\n", cfg.Arrays, cfg.Standard, cfg.Arrays-cfg.Standard)
	fmt.Fprintf(w, "size:   std=%d fault=%d entries\n", cfg.StdEntries, cfg.FaultEntries)

	chans, err := db.Channels(ctx)
	if err != nil {
		return fmt.Errorf("could not get channel map: %w", err)
	}

	ids := make([]int, 0, len(chans))
	for i := range chans {
		if array >= 0 && i != array {
			continue
		}
		ids = append(ids, i)
	}
	sort.Ints(ids)

	for _, i := range ids {
		fmt.Fprintf(w, "=== array %02d ===\n", i)
		for _, ch := range chans[i] {
			fmt.Fprintf(w, "  [%2d] %-10s %s\n", ch.Slot, ch.Kind, ch.Name)
		}
	}

	return nil
}
