// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"database/sql/driver"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/bsa/internal/fakedb"
	"github.com/go-lpc/bsa/proc"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	if got, want := dsn("bsa"), "username:s3cr3t@tcp(localhost)/bsa"; got != want {
		t.Fatalf("invalid DSN: got=%q, want=%q", got, want)
	}
}

func TestChannels(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	names := []string{"array", "slot", "name", "kind"}
	for _, tc := range []struct {
		name string
		rows [][]driver.Value
		want map[int][]Channel
		err  string
	}{
		{
			name: "ok",
			rows: [][]driver.Value{
				{int64(0), int64(0), "BPM:X", "float32"},
				{int64(0), int64(1), "BPM:Y", "float32"},
				{int64(2), int64(0), "LLRF:AMP", "llrf-amp"},
				{int64(2), int64(1), "LLRF:PHA", "llrf-phase"},
			},
			want: map[int][]Channel{
				0: {
					{Array: 0, Slot: 0, Name: "BPM:X", Kind: proc.Float32},
					{Array: 0, Slot: 1, Name: "BPM:Y", Kind: proc.Float32},
				},
				2: {
					{Array: 2, Slot: 0, Name: "LLRF:AMP", Kind: proc.LLRFAmp},
					{Array: 2, Slot: 1, Name: "LLRF:PHA", Kind: proc.LLRFPhase},
				},
			},
		},
		{
			name: "empty",
			want: map[int][]Channel{},
		},
		{
			name: "invalid-kind",
			rows: [][]driver.Value{
				{int64(1), int64(0), "TMIT", "int64"},
			},
			err: `conddb: invalid channel "TMIT" of array 1: proc: unknown channel kind "int64"`,
		},
		{
			name: "slot-gap",
			rows: [][]driver.Value{
				{int64(1), int64(0), "A", "int32"},
				{int64(1), int64(2), "B", "int32"},
			},
			err: `conddb: array 1: channel "B" has slot 2 (want=1)`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			stmts, _ := fakedb.Run(context.Background(), fakedb.Rows{
				Names:  names,
				Values: tc.rows,
			}, func(ctx context.Context) error {
				got, err := db.Channels(ctx)
				switch {
				case err != nil && tc.err != "":
					if got, want := err.Error(), tc.err; got != want {
						t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
					}
					return nil
				case err != nil:
					t.Fatalf("could not retrieve channel map: %+v", err)
				case tc.err != "":
					t.Fatalf("expected an error (%s)", tc.err)
				}
				if !reflect.DeepEqual(got, tc.want) {
					t.Fatalf("invalid channel map:\ngot= %+v\nwant=%+v", got, tc.want)
				}
				return nil
			})
			if len(stmts) != 1 || !strings.Contains(stmts[0], "FROM bsa_channels") {
				t.Fatalf("invalid statements: %q", stmts)
			}
		})
	}
}

func TestKinds(t *testing.T) {
	chans := map[int][]Channel{
		3: {{Kind: proc.Uint2}, {Kind: proc.Uint16}},
	}
	if got, want := Kinds(chans, 3), []proc.Kind{proc.Uint2, proc.Uint16}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid kinds: got=%v, want=%v", got, want)
	}
	if got := Kinds(chans, 1); len(got) != 0 {
		t.Fatalf("invalid kinds: got=%v", got)
	}
}

func TestLastConfig(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	names := []string{"name", "narrays", "nstd", "std_entries", "fault_entries"}
	_, _ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
		Values: [][]driver.Value{
			{"BSA2022_1", int64(48), int64(44), int64(1 << 15), int64(1 << 20)},
		},
	}, func(ctx context.Context) error {
		cfg, err := db.LastConfig(ctx)
		if err != nil {
			t.Fatalf("could not retrieve last cfg: %+v", err)
		}
		want := Config{
			Name:         "BSA2022_1",
			Arrays:       48,
			Standard:     44,
			StdEntries:   1 << 15,
			FaultEntries: 1 << 20,
		}
		if cfg != want {
			t.Fatalf("invalid cfg:\ngot= %+v\nwant=%+v", cfg, want)
		}
		return nil
	})

	_, _ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
	}, func(ctx context.Context) error {
		_, err := db.LastConfig(ctx)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if got, want := err.Error(), `conddb: no buffer cfg in "fakedb" db`; got != want {
			t.Fatalf("invalid error: got=%q, want=%q", got, want)
		}
		return nil
	})
}

func TestQueryContext(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	const query = "SELECT count(*) FROM bsa_channels"

	_, _ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"count"},
		Values: [][]driver.Value{
			{int64(139)},
		},
	}, func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			t.Fatalf("could not execute query %q: %+v", query, err)
		}
		defer rows.Close()

		var n int
		for rows.Next() {
			err = rows.Scan(&n)
			if err != nil {
				t.Fatalf("could not scan count: %+v", err)
			}
		}

		if err := rows.Err(); err != nil {
			t.Fatalf("could not scan count: %+v", err)
		}

		if got, want := n, 139; got != want {
			t.Fatalf("invalid count: got=%d, want=%d", got, want)
		}
		return nil
	})
}
