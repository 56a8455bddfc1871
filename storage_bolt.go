package couchfdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const defaultBoltBucket = "kv"

type BoltOptions struct {
	// Bucket holds the flat key space; defaults to "kv".
	Bucket string
	// Timeout for acquiring the file lock; defaults to 10 seconds.
	Timeout   time.Duration
	ReadOnly  bool
	IsTesting bool
	MmapSize  int
}

// BoltStore keeps the whole ordered key space in a single Bolt bucket.
type BoltStore struct {
	bdb    *bbolt.DB
	bucket []byte
}

// OpenBolt opens (or creates) a Bolt file at path.
func OpenBolt(path string, opt BoltOptions) (*BoltStore, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	bopt.ReadOnly = opt.ReadOnly
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}
	return NewBoltStore(bdb, opt.Bucket), nil
}

// NewBoltStore wraps an already open Bolt database.
func NewBoltStore(bdb *bbolt.DB, bucket string) *BoltStore {
	if bucket == "" {
		bucket = defaultBoltBucket
	}
	return &BoltStore{bdb: bdb, bucket: []byte(bucket)}
}

func (s *BoltStore) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *BoltStore) BeginTx(writable bool) (Tx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, boltErr(err)
	}
	return &boltTx{btx: btx, bucket: s.bucket}, nil
}

func (s *BoltStore) Close() error {
	return s.bdb.Close()
}

func boltErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("bolt: %w: %w", ErrStoreUnavailable, err)
	}
	if errors.Is(err, bbolt.ErrTxClosed) {
		return errTxClosed
	}
	return fmt.Errorf("bolt: %w", err)
}

type boltTx struct {
	btx    *bbolt.Tx
	bucket []byte
	closed bool
}

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Check(ctx context.Context) error {
	if tx.closed || tx.btx.DB() == nil {
		return errTxClosed
	}
	return ctx.Err()
}

// buck returns nil if nothing has been written yet.
func (tx *boltTx) buck() *bbolt.Bucket {
	return tx.btx.Bucket(tx.bucket)
}

func (tx *boltTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := tx.Check(ctx); err != nil {
		return nil, err
	}
	b := tx.buck()
	if b == nil {
		return nil, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (tx *boltTx) GetRange(ctx context.Context, begin, end KeySelector, opt RangeOptions) ([]KeyValue, bool, error) {
	if err := tx.Check(ctx); err != nil {
		return nil, false, err
	}
	if err := opt.validate(); err != nil {
		return nil, false, err
	}
	b := tx.buck()
	if b == nil {
		return nil, false, nil
	}
	return readRange(ctx, b.Cursor(), begin, end, opt.effectiveLimit())
}

func (tx *boltTx) Set(key, value []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	if !tx.btx.Writable() {
		return errTxNotWritable
	}
	b, err := tx.btx.CreateBucketIfNotExists(tx.bucket)
	if err != nil {
		return boltErr(err)
	}
	if value == nil {
		value = []byte{}
	}
	return b.Put(key, value)
}

func (tx *boltTx) Clear(key []byte) error {
	if !tx.btx.Writable() {
		return errTxNotWritable
	}
	b := tx.buck()
	if b == nil {
		return nil
	}
	return b.Delete(key)
}

func (tx *boltTx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	tx.closed = true
	if err := tx.btx.Commit(); err != nil {
		return boltErr(err)
	}
	return nil
}

func (tx *boltTx) Rollback() error {
	tx.closed = true
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}
