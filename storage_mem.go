package couchfdb

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type memStore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []KeyValue // sorted by key
	closed bool
	writer bool
}

// NewMemStore returns a transient in-memory Store. Readers see a snapshot
// taken when their transaction starts; writers are serialized.
func NewMemStore() Store {
	s := &memStore{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStore) BeginTx(writable bool) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store: %w", ErrStoreUnavailable)
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("memory store: %w", ErrStoreUnavailable)
		}
		s.writer = true
	}

	// Committed item slices are never mutated in place, so readers can share
	// them. Writers work on a copy.
	items := s.items
	if writable {
		items = slices.Clone(items)
	}
	return &memTx{
		base:     s,
		writable: writable,
		items:    items,
	}, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStore
	writable bool
	items    []KeyValue
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Check(ctx context.Context) error {
	if tx.closed {
		return errTxClosed
	}
	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

func (tx *memTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := tx.Check(ctx); err != nil {
		return nil, err
	}
	i, ok := tx.find(key)
	if !ok {
		return nil, nil
	}
	return slices.Clone(tx.items[i].Value), nil
}

func (tx *memTx) GetRange(ctx context.Context, begin, end KeySelector, opt RangeOptions) ([]KeyValue, bool, error) {
	if err := tx.Check(ctx); err != nil {
		return nil, false, err
	}
	if err := opt.validate(); err != nil {
		return nil, false, err
	}
	return readRange(ctx, &memCursor{items: tx.items, pos: -1}, begin, end, opt.effectiveLimit())
}

func (tx *memTx) Set(key, value []byte) error {
	if err := tx.checkWritable(key); err != nil {
		return err
	}
	key = slices.Clone(key)
	value = append([]byte{}, value...)

	i, ok := tx.find(key)
	if ok {
		tx.items[i].Value = value
		return nil
	}
	tx.items = slices.Insert(tx.items, i, KeyValue{Key: key, Value: value})
	return nil
}

func (tx *memTx) Clear(key []byte) error {
	if err := tx.checkWritable(key); err != nil {
		return err
	}
	i, ok := tx.find(key)
	if !ok {
		return nil
	}
	tx.items = slices.Delete(tx.items, i, i+1)
	return nil
}

func (tx *memTx) checkWritable(key []byte) error {
	if tx.closed {
		return errTxClosed
	}
	if !tx.writable {
		return errTxNotWritable
	}
	if len(key) == 0 {
		return errEmptyKey
	}
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	if !tx.writable {
		return errTxNotWritable
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("memory store: %w", ErrStoreUnavailable)
	}
	tx.base.items = tx.items
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) find(key []byte) (idx int, ok bool) {
	items := tx.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].Key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].Key, key) {
		return i, true
	}
	return i, false
}

type memCursor struct {
	items []KeyValue
	pos   int
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.items
	c.pos = sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].Key, seek) >= 0
	})
	return c.current()
}

func (c *memCursor) Next() ([]byte, []byte) {
	c.pos++
	return c.current()
}

func (c *memCursor) current() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil, nil
	}
	kv := c.items[c.pos]
	return kv.Key, kv.Value
}
