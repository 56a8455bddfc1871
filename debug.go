package couchfdb

import (
	"context"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpDatabases = DumpFlags(1 << iota)
	DumpDocuments
	DumpKeys

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the catalog as text, for debugging.
func (l *Layer) Dump(ctx context.Context, tx Tx, f DumpFlags) (string, error) {
	var buf strings.Builder
	root, err := l.Root(ctx, tx)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(&buf, dumpSep1)
	fmt.Fprintln(&buf, rpad(fmt.Sprintf("root %s ", hexstr(root)), 80, '='))

	c := ListDatabases(ctx, tx, root, l.scan)
	var dbPos int
	for c.Next() {
		dbPos++
		db := c.Row()
		if f.Contains(DumpDatabases) {
			fmt.Fprintln(&buf, dumpSep2)
			fmt.Fprintf(&buf, "%d. %s (subspace %s)\n", dbPos, db.Name, hexstr(db.Subspace))
			if f.Contains(DumpKeys) {
				fmt.Fprintf(&buf, "   key %s\n", hexstr(c.RawKey()))
			}
		}
		if f.Contains(DumpDocuments) {
			if err := l.dumpDocuments(ctx, &buf, tx, f, db); err != nil {
				return buf.String(), err
			}
		}
	}
	for _, err := range c.Skipped() {
		fmt.Fprintf(&buf, "** SKIPPED: %v\n", err)
	}
	return buf.String(), c.Err()
}

func (l *Layer) dumpDocuments(ctx context.Context, w *strings.Builder, tx Tx, f DumpFlags, db Database) error {
	c := ListDocuments(ctx, tx, db, l.scan)
	var rowPos int
	for c.Next() {
		rowPos++
		row := c.Row()
		fmt.Fprintf(w, "%s.%d: %s => %s\n", db.Name, rowPos, row.ID, row.Revision)
		if f.Contains(DumpKeys) {
			fmt.Fprintf(w, "   key %s\n", hexstr(c.RawKey()))
		}
	}
	for _, err := range c.Skipped() {
		fmt.Fprintf(w, "%s ** SKIPPED: %v\n", db.Name, err)
	}
	return c.Err()
}
