package couchfdb

import (
	"bytes"
	"context"
	"errors"
)

var (
	errTxClosed      = errors.New("transaction closed")
	errTxNotWritable = errors.New("transaction not writable")
	errEmptyKey      = errors.New("empty key")
)

// Store is an ordered transactional key-value store (FoundationDB-like). The
// package ships in-memory, Bolt and LevelDB implementations.
type Store interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (Tx, error)
	// Close closes the store. Transactions started afterwards fail with
	// ErrStoreUnavailable.
	Close() error
}

// Tx is a store transaction. A Tx is owned by one goroutine at a time.
type Tx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Check returns an error once the transaction has been committed or
	// rolled back, or when ctx is done.
	Check(ctx context.Context) error

	// Get returns the value of key, or nil if the key does not exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// GetRange returns key-value pairs between the positions the two
	// selectors resolve to, begin inclusive, end exclusive, in key order.
	// more is true if the limit cut the result short. Returned slices are
	// owned by the caller.
	GetRange(ctx context.Context, begin, end KeySelector, opt RangeOptions) (kvs []KeyValue, more bool, err error)

	// Set stores a key-value pair.
	Set(key, value []byte) error

	// Clear removes a key.
	Clear(key []byte) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit and
	// to call multiple times.
	Rollback() error
}

type KeyValue struct {
	Key   []byte
	Value []byte
}

// KeySelector picks a key position: the first key >= Key, or the first key
// > Key if After is set.
type KeySelector struct {
	Key   []byte
	After bool
}

func FirstGreaterOrEqual(key []byte) KeySelector {
	return KeySelector{Key: key}
}

func FirstGreaterThan(key []byte) KeySelector {
	return KeySelector{Key: key, After: true}
}

// before reports whether key sorts before the position the selector resolves to.
func (sel KeySelector) before(key []byte) bool {
	c := bytes.Compare(key, sel.Key)
	if sel.After {
		return c <= 0
	}
	return c < 0
}

// StreamingMode controls how many pairs a single GetRange call returns when
// no explicit limit is given.
type StreamingMode int

const (
	// StreamIterator starts with small batches and grows them with every
	// iteration of the same scan.
	StreamIterator StreamingMode = iota
	// StreamWantAll returns everything in one go.
	StreamWantAll
	// StreamExact returns exactly the limit; a limit is required.
	StreamExact
	StreamSmall
	StreamMedium
	StreamLarge
)

func (m StreamingMode) String() string {
	switch m {
	case StreamIterator:
		return "iterator"
	case StreamWantAll:
		return "want_all"
	case StreamExact:
		return "exact"
	case StreamSmall:
		return "small"
	case StreamMedium:
		return "medium"
	case StreamLarge:
		return "large"
	default:
		return "invalid"
	}
}

const (
	iteratorMinBatch = 16
	iteratorMaxBatch = 4096
)

// batchSize returns the per-call row cap for the mode, 0 meaning unlimited.
func (m StreamingMode) batchSize(iteration int) int {
	switch m {
	case StreamIterator:
		n := iteratorMinBatch
		for i := 1; i < iteration && n < iteratorMaxBatch; i++ {
			n <<= 1
		}
		return min(n, iteratorMaxBatch)
	case StreamSmall:
		return 64
	case StreamMedium:
		return 512
	case StreamLarge:
		return 4096
	default:
		return 0
	}
}

type RangeOptions struct {
	// Limit caps the number of pairs returned; 0 means no explicit limit.
	Limit int
	Mode  StreamingMode
	// Iteration is the 1-based number of this call within one scan; only
	// StreamIterator looks at it.
	Iteration int
}

func (o RangeOptions) validate() error {
	if o.Mode == StreamExact && o.Limit <= 0 {
		return errors.New("exact streaming mode requires a limit")
	}
	if o.Limit < 0 {
		return errors.New("negative limit")
	}
	return nil
}

func (o RangeOptions) effectiveLimit() int {
	n := o.Mode.batchSize(o.Iteration)
	if o.Limit > 0 && (n == 0 || o.Limit < n) {
		n = o.Limit
	}
	return n
}

// storageCursor is the subset of a sorted cursor that range reads need.
// Returned slices are only valid until the next call.
type storageCursor interface {
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	// Next moves to the next key-value pair.
	Next() (key, value []byte)
}

// readRange resolves the selectors against cur and collects at most limit
// pairs (limit <= 0 means unlimited), copying them out of the cursor.
func readRange(ctx context.Context, cur storageCursor, begin, end KeySelector, limit int) ([]KeyValue, bool, error) {
	var kvs []KeyValue
	k, v := cur.Seek(begin.Key)
	if k != nil && begin.After && bytes.Equal(k, begin.Key) {
		k, v = cur.Next()
	}
	for ; k != nil && end.before(k); k, v = cur.Next() {
		if limit > 0 && len(kvs) >= limit {
			return kvs, true, nil
		}
		if len(kvs)%256 == 255 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}
		kvs = append(kvs, KeyValue{
			Key:   append([]byte(nil), k...),
			Value: append([]byte{}, v...),
		})
	}
	return kvs, false, nil
}
