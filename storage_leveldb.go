package couchfdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type LevelDBOptions struct {
	ReadOnly bool
	// ErrorIfMissing fails OpenLevelDB instead of creating a new database.
	ErrorIfMissing bool
}

func (o LevelDBOptions) options() *opt.Options {
	return &opt.Options{
		ReadOnly:       o.ReadOnly,
		ErrorIfMissing: o.ErrorIfMissing,
	}
}

// LevelDBStore implements Store on top of LevelDB. Read-only transactions
// read from a snapshot; writable ones use LevelDB transactions, so there is
// at most one writer at a time.
type LevelDBStore struct {
	db   *leveldb.DB
	path string
}

// OpenLevelDB opens (or creates) a LevelDB database at path.
func OpenLevelDB(path string, o LevelDBOptions) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, o.options())
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDBStore{db: db, path: path}, nil
}

// NewMemLevelDB returns a LevelDB store backed by memory, intended for tests.
func NewMemLevelDB() (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb in memory: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) GetPath() string {
	return s.path
}

func (s *LevelDBStore) BeginTx(writable bool) (Tx, error) {
	if writable {
		tr, err := s.db.OpenTransaction()
		if err != nil {
			return nil, levelErr(err)
		}
		return &levelTx{r: tr, tr: tr}, nil
	}
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, levelErr(err)
	}
	return &levelTx{r: snap, snap: snap}, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func levelErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) || errors.Is(err, leveldb.ErrSnapshotReleased) {
		return fmt.Errorf("leveldb: %w: %w", ErrStoreUnavailable, err)
	}
	return fmt.Errorf("leveldb: %w", err)
}

// levelReader is implemented by both *leveldb.Snapshot and *leveldb.Transaction.
type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type levelTx struct {
	r      levelReader
	tr     *leveldb.Transaction
	snap   *leveldb.Snapshot
	closed bool
}

func (tx *levelTx) Writable() bool { return tx.tr != nil }

func (tx *levelTx) Check(ctx context.Context) error {
	if tx.closed {
		return errTxClosed
	}
	return ctx.Err()
}

func (tx *levelTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := tx.Check(ctx); err != nil {
		return nil, err
	}
	v, err := tx.r.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, levelErr(err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (tx *levelTx) GetRange(ctx context.Context, begin, end KeySelector, o RangeOptions) ([]KeyValue, bool, error) {
	if err := tx.Check(ctx); err != nil {
		return nil, false, err
	}
	if err := o.validate(); err != nil {
		return nil, false, err
	}
	limit := end.Key
	if end.After {
		limit = concat(end.Key, []byte{0})
	}
	it := tx.r.NewIterator(&util.Range{Start: begin.Key, Limit: limit}, nil)
	defer it.Release()
	kvs, more, err := readRange(ctx, levelCursor{it}, begin, end, o.effectiveLimit())
	if err != nil {
		return nil, false, err
	}
	if err := it.Error(); err != nil {
		return nil, false, levelErr(err)
	}
	return kvs, more, nil
}

func (tx *levelTx) Set(key, value []byte) error {
	if err := tx.checkWritable(key); err != nil {
		return err
	}
	return tx.tr.Put(key, value, nil)
}

func (tx *levelTx) Clear(key []byte) error {
	if err := tx.checkWritable(key); err != nil {
		return err
	}
	return tx.tr.Delete(key, nil)
}

func (tx *levelTx) checkWritable(key []byte) error {
	if tx.closed {
		return errTxClosed
	}
	if tx.tr == nil {
		return errTxNotWritable
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	return nil
}

func (tx *levelTx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	if tx.tr == nil {
		return errTxNotWritable
	}
	tx.closed = true
	if err := tx.tr.Commit(); err != nil {
		return levelErr(err)
	}
	return nil
}

func (tx *levelTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	if tx.tr != nil {
		tx.tr.Discard()
	} else {
		tx.snap.Release()
	}
	return nil
}

type levelCursor struct {
	it iterator.Iterator
}

func (c levelCursor) Seek(seek []byte) ([]byte, []byte) {
	if !c.it.Seek(seek) {
		return nil, nil
	}
	return c.it.Key(), c.it.Value()
}

func (c levelCursor) Next() ([]byte, []byte) {
	if !c.it.Next() {
		return nil, nil
	}
	return c.it.Key(), c.it.Value()
}
