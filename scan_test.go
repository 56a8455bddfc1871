package couchfdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"
)

// flakyTx counts GetRange calls and fails the failAt-th one (1-based).
type flakyTx struct {
	Tx
	calls  int
	failAt int
	err    error
}

func (tx *flakyTx) GetRange(ctx context.Context, begin, end KeySelector, opt RangeOptions) ([]KeyValue, bool, error) {
	tx.calls++
	if tx.calls == tx.failAt {
		return nil, false, tx.err
	}
	return tx.Tx.GetRange(ctx, begin, end, opt)
}

func TestListDocuments_PaginationTransparency(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 100, "b": 3, "c": 10}, "a", "b", "c")
		tx := readTx(t, s)

		expected := must(AllDocuments(bg, tx, dbs[0], ScanOptions{Mode: StreamWantAll}))
		if len(expected) != 100 {
			t.Fatalf("len = %d, wanted 100", len(expected))
		}
		for i, row := range expected {
			if want := fmt.Sprintf("doc%03d", i); row.ID != want {
				t.Fatalf("row %d id = %q, wanted %q", i, row.ID, want)
			}
		}

		for _, opt := range []ScanOptions{
			{PageLimit: 1},
			{PageLimit: 3},
			{PageLimit: 7},
			{PageLimit: 100},
			{PageLimit: 1000},
			{Mode: StreamIterator},
			{Mode: StreamSmall},
			{Mode: StreamExact, PageLimit: 9},
		} {
			rows, err := AllDocuments(bg, tx, dbs[0], opt)
			if err != nil {
				t.Fatalf("AllDocuments(%+v) failed: %v", opt, err)
			}
			deepEqual(t, rows, expected)
		}
	})
}

func TestScan_Pages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 10}, "a")
		tx := readTx(t, s)

		tests := []struct {
			opt   ScanOptions
			pages int
		}{
			{ScanOptions{PageLimit: 5}, 2},
			{ScanOptions{PageLimit: 3}, 4},
			{ScanOptions{PageLimit: 10}, 1},
			{ScanOptions{PageLimit: 1}, 10},
			{ScanOptions{Mode: StreamWantAll}, 1},
			{ScanOptions{Mode: StreamIterator}, 1},
		}
		for _, tt := range tests {
			c := Scan(bg, tx, DocumentListingRange(dbs[0].Subspace), tt.opt)
			if c.Pages() != 0 {
				t.Fatalf("Scan performed I/O before Next")
			}
			var n int
			for range c.All() {
				n++
			}
			ensure(c.Err())
			if n != 10 {
				t.Errorf("** %+v: got %d pairs, wanted 10", tt.opt, n)
			}
			if c.Pages() != tt.pages {
				t.Errorf("** %+v: Pages() = %d, wanted %d", tt.opt, c.Pages(), tt.pages)
			}
		}
	})
}

func TestScan_Limit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 20}, "a")
		tx := readTx(t, s)

		for _, opt := range []ScanOptions{
			{Limit: 5},
			{Limit: 5, PageLimit: 2},
			{Limit: 5, PageLimit: 50},
			{Limit: 5, Mode: StreamExact},
		} {
			rows := must(AllDocuments(bg, tx, dbs[0], opt))
			if len(rows) != 5 || rows[0].ID != "doc000" || rows[4].ID != "doc004" {
				t.Errorf("** %+v: got %d rows, %v", opt, len(rows), rows)
			}
		}
		rows := must(AllDocuments(bg, tx, dbs[0], ScanOptions{Limit: 100}))
		if len(rows) != 20 {
			t.Errorf("** Limit above row count: got %d rows, wanted 20", len(rows))
		}
	})
}

func TestScan_ExactWithoutLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 2}, "a")
		tx := readTx(t, s)
		_, err := AllDocuments(bg, tx, dbs[0], ScanOptions{Mode: StreamExact})
		var se *ScanError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, wanted *ScanError", err)
		}
	})
}

func TestScan_RandomInsertOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		db := Subspace{0x15, 0x28}
		r := rand.New(rand.NewPCG(7, 8))
		ids := []string{"", "\x00", "\x00\x00", "\x01", "a", "a\x00", "a\x00b", "ab", "b", "\xff", "\xff\xff"}
		perm := r.Perm(len(ids))
		var kvs []KeyValue
		for _, i := range perm {
			kvs = append(kvs, KeyValue{DocumentKey(db, ids[i]), EncodeRevision(Revision{1, []byte{byte(i)}})})
		}
		// neighbors that must stay out of the listing
		kvs = append(kvs,
			KeyValue{db.Pack(Tuple{AllDocsMarker - 1, []byte("x")}), []byte{}},
			KeyValue{db.Pack(Tuple{AllDocsMarker + 1, []byte("x")}), []byte{}},
			KeyValue{db.Pack(Tuple{AllDocsMarker - 1}), []byte{}},
			KeyValue{Subspace{0x15, 0x29}.Pack(Tuple{AllDocsMarker, []byte("x")}), []byte{}},
		)
		seed(t, s, kvs...)
		tx := readTx(t, s)

		for _, pageLimit := range []int{0, 1, 2, 4} {
			rows, err := AllDocuments(bg, tx, Database{Name: "x", Subspace: db}, ScanOptions{PageLimit: pageLimit})
			if err != nil {
				t.Fatalf("AllDocuments failed: %v", err)
			}
			var got []string
			for _, row := range rows {
				got = append(got, row.ID)
			}
			deepEqual(t, got, ids)
		}
	})
}

func TestListDatabases(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		root, dbs := catalogFixture(t, s, nil, "zeta", "_users", "alpha")
		tx := readTx(t, s)

		got := must(AllDatabases(bg, tx, root, ScanOptions{PageLimit: 2}))
		deepEqual(t, got, []Database{dbs[1], dbs[2], dbs[0]})
	})
}

func TestListDatabases_EmptyCatalog(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		root, _ := catalogFixture(t, s, nil)
		tx := readTx(t, s)
		got, err := AllDatabases(bg, tx, root, ScanOptions{})
		if err != nil || len(got) != 0 {
			t.Fatalf("AllDatabases = %v, %v; wanted empty", got, err)
		}
	})
}

func TestListDatabases_EmptySubspace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		root, dbs := catalogFixture(t, s, nil, "a")
		seed(t, s,
			KeyValue{DatabaseKey(root, "bad"), []byte{}},
			KeyValue{Pack(Tuple{AllDocsMarker, []byte("foreign")}), EncodeRevision(Revision{1, []byte{0x01}})},
		)
		tx := readTx(t, s)

		got, err := AllDatabases(bg, tx, root, ScanOptions{})
		if !errors.Is(err, ErrUnexpectedKeyShape) {
			t.Fatalf("AllDatabases = %v, %v; wanted ErrUnexpectedKeyShape", got, err)
		}

		c := ListDatabases(bg, tx, root, ScanOptions{RowErrors: RowErrorSkip, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
		got = must(Collect(c))
		deepEqual(t, got, []Database{dbs[0]})
		if len(c.Skipped()) != 1 {
			t.Fatalf("Skipped() = %v, wanted the empty subspace row", c.Skipped())
		}
	})
}

func TestScan_Canceled(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 10}, "a")
		tx := readTx(t, s)

		ctx, cancel := context.WithCancel(bg)
		defer cancel()
		c := ListDocuments(ctx, tx, dbs[0], ScanOptions{PageLimit: 2})
		for i := 0; i < 2; i++ {
			if !c.Next() {
				t.Fatalf("Next() = false at row %d: %v", i, c.Err())
			}
		}
		cancel()
		if c.Next() {
			t.Fatalf("Next() = true after cancellation")
		}
		err := c.Err()
		var se *ScanError
		if !errors.As(err, &se) || !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, wanted *ScanError wrapping context.Canceled", err)
		}
		if !bytes.Equal(se.Range.Start, DocumentListingRange(dbs[0].Subspace).Start) {
			t.Fatalf("ScanError.Range = %v, wanted the listing range", se.Range)
		}
		if c.Next() {
			t.Fatalf("Next() = true after failure")
		}
	})
}

func TestScan_CanceledWithinPage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 10}, "a")
		tx := readTx(t, s)

		ctx, cancel := context.WithCancel(bg)
		defer cancel()
		c := Scan(ctx, tx, DocumentListingRange(dbs[0].Subspace), ScanOptions{Mode: StreamWantAll})
		if !c.Next() {
			t.Fatalf("Next() = false: %v", c.Err())
		}
		if kv := c.KeyValue(); !bytes.Equal(kv.Key, DocumentKey(dbs[0].Subspace, "doc000")) || !bytes.Equal(kv.Value, c.Value()) {
			t.Fatalf("KeyValue() = %x => %x", kv.Key, kv.Value)
		}
		if c.Pages() != 1 {
			t.Fatalf("Pages() = %d, wanted the whole range in one page", c.Pages())
		}
		cancel()
		var n int
		for c.Next() {
			n++
		}
		if n != 0 {
			t.Fatalf("got %d buffered rows after cancellation", n)
		}
		if !errors.Is(c.Err(), context.Canceled) {
			t.Fatalf("err = %v, wanted context.Canceled", c.Err())
		}
	})
}

func TestScan_RolledBackWithinPage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 10}, "a")
		tx := must(s.BeginTx(false))

		c := ListDocuments(bg, tx, dbs[0], ScanOptions{Mode: StreamWantAll})
		if !c.Next() || c.Row().ID != "doc000" {
			t.Fatalf("first row = %v, %v", c.Row(), c.Err())
		}
		ensure(tx.Rollback())
		if c.Next() {
			t.Fatalf("Next() = true after rollback, row %v", c.Row())
		}
		var se *ScanError
		if !errors.As(c.Err(), &se) || !errors.Is(c.Err(), errTxClosed) {
			t.Fatalf("err = %v, wanted *ScanError wrapping errTxClosed", c.Err())
		}
	})
}

func TestScan_StoreFailureNotRetried(t *testing.T) {
	s := NewMemStore()
	defer s.Close()
	_, dbs := catalogFixture(t, s, map[string]int{"a": 10}, "a")
	ftx := &flakyTx{Tx: readTx(t, s), failAt: 2, err: fmt.Errorf("memory store: %w", ErrStoreUnavailable)}

	c := ListDocuments(bg, ftx, dbs[0], ScanOptions{PageLimit: 4})
	var n int
	for c.Next() {
		n++
	}
	if n != 4 {
		t.Fatalf("got %d rows before the failure, wanted 4", n)
	}
	if !errors.Is(c.Err(), ErrStoreUnavailable) {
		t.Fatalf("err = %v, wanted ErrStoreUnavailable", c.Err())
	}
	if c.Next() || ftx.calls != 2 {
		t.Fatalf("cursor kept going after failure: calls = %d", ftx.calls)
	}
}

func TestListDocuments_RowErrorPolicy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, dbs := catalogFixture(t, s, map[string]int{"a": 4}, "a")
		db := dbs[0]
		seed(t, s,
			KeyValue{DocumentKey(db.Subspace, "doc001x"), mustHex("16 01")},
			KeyValue{db.Subspace.Pack(Tuple{AllDocsMarker, "doc002x"}), EncodeRevision(Revision{1, nil})},
		)
		tx := readTx(t, s)

		c := ListDocuments(bg, tx, db, ScanOptions{PageLimit: 2})
		var ids []string
		for c.Next() {
			ids = append(ids, c.Row().ID)
		}
		deepEqual(t, ids, []string{"doc000", "doc001"})
		if !errors.Is(c.Err(), ErrTruncated) {
			t.Fatalf("err = %v, wanted ErrTruncated", c.Err())
		}
		if c.Next() {
			t.Fatalf("Next() = true after a row failure")
		}

		var logBuf strings.Builder
		logger := slog.New(slog.NewTextHandler(&logBuf, nil))
		c = ListDocuments(bg, tx, db, ScanOptions{PageLimit: 2, RowErrors: RowErrorSkip, Logger: logger})
		ids = nil
		for c.Next() {
			ids = append(ids, c.Row().ID)
		}
		ensure(c.Err())
		deepEqual(t, ids, []string{"doc000", "doc001", "doc002", "doc003"})
		skipped := c.Skipped()
		if len(skipped) != 2 {
			t.Fatalf("Skipped() = %v, wanted 2 errors", skipped)
		}
		if !errors.Is(skipped[0], ErrTruncated) || !errors.Is(skipped[1], ErrUnexpectedKeyShape) {
			t.Fatalf("Skipped() = %v", skipped)
		}
		if n := strings.Count(logBuf.String(), "skipping bad row"); n != 2 {
			t.Fatalf("logged %d skipped rows, wanted 2:\n%s", n, logBuf.String())
		}
	})
}

func TestRowCursor_AllStopsEarly(t *testing.T) {
	s := NewMemStore()
	defer s.Close()
	root, _ := catalogFixture(t, s, nil, "a", "b", "c")
	tx := readTx(t, s)

	c := ListDatabases(bg, tx, root, ScanOptions{})
	var names []string
	for db := range c.All() {
		names = append(names, db.Name)
		if db.Name == "b" {
			break
		}
	}
	deepEqual(t, names, []string{"a", "b"})
	if !c.Next() || c.Row().Name != "c" {
		t.Fatalf("cursor did not resume after break")
	}
	if !bytes.Equal(c.RawKey(), DatabaseKey(root, "c")) {
		t.Fatalf("RawKey = %x, wanted %x", c.RawKey(), DatabaseKey(root, "c"))
	}
}
