package couchfdb

import (
	"context"
	"iter"
	"log/slog"
)

const (
	debugLogScans = false
)

// RowErrorPolicy says what listing cursors do with rows that fail to decode.
type RowErrorPolicy int

const (
	// RowErrorFail stops the enumeration; the error is reported by Err.
	RowErrorFail RowErrorPolicy = iota
	// RowErrorSkip logs the row, records the error in Skipped and moves on.
	RowErrorSkip
)

type ScanOptions struct {
	// PageLimit caps the number of pairs fetched by one GetRange call.
	// 0 leaves the batch size to Mode.
	PageLimit int
	// Limit caps the total number of pairs the scan yields; 0 is unlimited.
	Limit int
	Mode  StreamingMode

	RowErrors RowErrorPolicy
	Logger    *slog.Logger
}

func (o ScanOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// RangeCursor lazily walks a key range, fetching one page at a time.
// Subsequent pages start right after the last key returned. It is
// forward-only and cannot be restarted.
//
// Store failures stop the cursor: Next returns false and Err returns a
// *ScanError. So do context cancellation and the end of the transaction,
// even while rows of an already fetched page remain. Nothing is retried.
type RangeCursor struct {
	ctx    context.Context
	tx     Tx
	rang   KeyRange
	opt    ScanOptions
	logger *slog.Logger

	begin, end KeySelector
	page       []KeyValue
	pos        int
	iteration  int
	returned   int
	more       bool
	done       bool
	err        error
	kv         KeyValue
}

// Scan returns a cursor over the pairs of rang within tx. No I/O happens
// until the first call to Next.
func Scan(ctx context.Context, tx Tx, rang KeyRange, opt ScanOptions) *RangeCursor {
	begin, end := rang.Selectors()
	return &RangeCursor{
		ctx:    ctx,
		tx:     tx,
		rang:   rang,
		opt:    opt,
		logger: opt.logger(),
		begin:  begin,
		end:    end,
		more:   true,
	}
}

func (c *RangeCursor) Next() bool {
	if c.done {
		return false
	}
	if c.opt.Limit > 0 && c.returned >= c.opt.Limit {
		c.done = true
		return false
	}
	// buffered rows are not served from a dead transaction
	if err := c.tx.Check(c.ctx); err != nil {
		c.fail(err)
		return false
	}
	for c.pos >= len(c.page) {
		if !c.more {
			c.done = true
			return false
		}
		if !c.fetch() {
			return false
		}
	}
	c.kv = c.page[c.pos]
	c.pos++
	c.returned++
	return true
}

func (c *RangeCursor) fetch() bool {
	c.iteration++
	limit := c.opt.PageLimit
	if c.opt.Limit > 0 {
		remaining := c.opt.Limit - c.returned
		if limit == 0 || remaining < limit {
			limit = remaining
		}
	}
	kvs, more, err := c.tx.GetRange(c.ctx, c.begin, c.end, RangeOptions{
		Limit:     limit,
		Mode:      c.opt.Mode,
		Iteration: c.iteration,
	})
	if err != nil {
		c.fail(err)
		return false
	}
	if debugLogScans {
		c.logger.LogAttrs(c.ctx, slog.LevelDebug, "scan page", hexAttr("begin", c.begin.Key), slog.Bool("after", c.begin.After), slog.Int("iteration", c.iteration), slog.Int("limit", limit), slog.Int("count", len(kvs)), slog.Bool("more", more))
	}
	c.page, c.pos, c.more = kvs, 0, more
	if n := len(kvs); n > 0 {
		c.begin = FirstGreaterThan(kvs[n-1].Key)
	} else {
		c.more = false
	}
	return true
}

func (c *RangeCursor) fail(err error) {
	c.err = &ScanError{Range: c.rang, Err: err}
	c.done = true
	c.page = nil
}

func (c *RangeCursor) Key() []byte        { return c.kv.Key }
func (c *RangeCursor) Value() []byte      { return c.kv.Value }
func (c *RangeCursor) KeyValue() KeyValue { return c.kv }

// Err returns the error that stopped the cursor, if any.
func (c *RangeCursor) Err() error { return c.err }

// Pages returns the number of GetRange calls made so far.
func (c *RangeCursor) Pages() int { return c.iteration }

// All yields the remaining pairs. Check Err afterwards.
func (c *RangeCursor) All() iter.Seq[KeyValue] {
	return func(yield func(KeyValue) bool) {
		for c.Next() {
			if !yield(c.kv) {
				return
			}
		}
	}
}

// RowCursor decodes each pair of an underlying RangeCursor into a Row.
type RowCursor[Row any] struct {
	raw     *RangeCursor
	decode  func(k, v []byte) (Row, error)
	row     Row
	skipped []error
	err     error
}

func newRowCursor[Row any](raw *RangeCursor, decode func(k, v []byte) (Row, error)) *RowCursor[Row] {
	return &RowCursor[Row]{raw: raw, decode: decode}
}

func (c *RowCursor[Row]) Next() bool {
	if c.err != nil {
		return false
	}
	for c.raw.Next() {
		row, err := c.decode(c.raw.Key(), c.raw.Value())
		if err == nil {
			c.row = row
			return true
		}
		if c.raw.opt.RowErrors != RowErrorSkip {
			c.err = err
			return false
		}
		c.raw.logger.LogAttrs(c.raw.ctx, slog.LevelWarn, "skipping bad row", hexAttr("key", c.raw.Key()), slog.String("err", err.Error()))
		c.skipped = append(c.skipped, err)
	}
	return false
}

func (c *RowCursor[Row]) Row() Row { return c.row }

// RawKey returns the key of the current row.
func (c *RowCursor[Row]) RawKey() []byte { return c.raw.Key() }

func (c *RowCursor[Row]) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.raw.Err()
}

// Skipped returns the errors of rows skipped under RowErrorSkip.
func (c *RowCursor[Row]) Skipped() []error { return c.skipped }

func (c *RowCursor[Row]) All() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for c.Next() {
			if !yield(c.row) {
				return
			}
		}
	}
}

// Collect drains the cursor.
func Collect[Row any](c *RowCursor[Row]) ([]Row, error) {
	var result []Row
	for c.Next() {
		result = append(result, c.Row())
	}
	return result, c.Err()
}

// ListDatabases enumerates the database listing under root in name order.
func ListDatabases(ctx context.Context, tx Tx, root Subspace, opt ScanOptions) *RowCursor[Database] {
	raw := Scan(ctx, tx, DatabaseListingRange(root), opt)
	return newRowCursor(raw, func(k, v []byte) (Database, error) {
		return DecodeDatabaseRow(k, v, root)
	})
}

// ListDocuments enumerates the document listing of db in id order.
func ListDocuments(ctx context.Context, tx Tx, db Database, opt ScanOptions) *RowCursor[DocumentRow] {
	raw := Scan(ctx, tx, DocumentListingRange(db.Subspace), opt)
	return newRowCursor(raw, func(k, v []byte) (DocumentRow, error) {
		return DecodeDocumentRow(k, v, db.Subspace)
	})
}

func AllDatabases(ctx context.Context, tx Tx, root Subspace, opt ScanOptions) ([]Database, error) {
	return Collect(ListDatabases(ctx, tx, root, opt))
}

func AllDocuments(ctx context.Context, tx Tx, db Database, opt ScanOptions) ([]DocumentRow, error) {
	return Collect(ListDocuments(ctx, tx, db, opt))
}
