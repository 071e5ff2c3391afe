// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database of the BSA acquisition.
package conddb // import "github.com/go-lpc/bsa/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-lpc/bsa/proc"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to retrieve the channel maps and
// buffer configurations from the BSA database.
type DB struct {
	db   *sql.DB
	name string // name of the BSA database
}

// Open opens a connection to the BSA database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// Channel describes one channel slot of a BSA array.
type Channel struct {
	Array int
	Slot  int
	Name  string
	Kind  proc.Kind
}

// Channels returns the channel map of all arrays, keyed by array index
// and ordered by slot.
func (db *DB) Channels(ctx context.Context) (map[int][]Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT array, slot, name, kind FROM bsa_channels ORDER BY array, slot",
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query channel map: %w", err)
	}
	defer rows.Close()

	chans := make(map[int][]Channel)
	for i := 0; rows.Next(); i++ {
		var (
			ch   Channel
			kind string
		)
		err = rows.Scan(&ch.Array, &ch.Slot, &ch.Name, &kind)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not scan row %d of channel map: %w", i, err)
		}
		ch.Kind, err = proc.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("conddb: invalid channel %q of array %d: %w", ch.Name, ch.Array, err)
		}
		if n := len(chans[ch.Array]); ch.Slot != n {
			return nil, fmt.Errorf(
				"conddb: array %d: channel %q has slot %d (want=%d)",
				ch.Array, ch.Name, ch.Slot, n,
			)
		}
		chans[ch.Array] = append(chans[ch.Array], ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for channel map: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving channel map: %w", err)
	}

	return chans, nil
}

// Kinds returns the channel kinds of array i, in slot order.
func Kinds(chans map[int][]Channel, i int) []proc.Kind {
	kinds := make([]proc.Kind, len(chans[i]))
	for k, ch := range chans[i] {
		kinds[k] = ch.Kind
	}
	return kinds
}

// Config is a buffer configuration of the carrier.
type Config struct {
	Name         string
	Arrays       int // total number of arrays
	Standard     int // number of standard arrays
	StdEntries   int
	FaultEntries int
}

// LastConfig returns the most recent buffer configuration.
func (db *DB) LastConfig(ctx context.Context) (Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cfg Config
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name, narrays, nstd, std_entries, fault_entries FROM bsa_configs ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not query buffer cfg: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		err = rows.Scan(&cfg.Name, &cfg.Arrays, &cfg.Standard, &cfg.StdEntries, &cfg.FaultEntries)
		if err != nil {
			return cfg, fmt.Errorf("conddb: could not get buffer cfg value: %w", err)
		}
		n++
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for buffer cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: context error while retrieving buffer cfg: %w", err)
	}

	if n == 0 {
		return cfg, fmt.Errorf("conddb: no buffer cfg in %q db", db.name)
	}

	return cfg, nil
}
