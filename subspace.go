package couchfdb

import (
	"bytes"
)

// Subspace is a key prefix delimiting a logical namespace. Subspaces nest by
// plain concatenation.
type Subspace []byte

// Bytes returns the raw prefix.
func (ss Subspace) Bytes() []byte {
	return ss
}

// Pack returns ss || Pack(t).
func (ss Subspace) Pack(t Tuple) []byte {
	return AppendTuple(appendRaw(make([]byte, 0, len(ss)+16), ss), t)
}

// PackWithSuffix returns ss || Pack(t) || suffix. The suffix is a literal
// byte string, typically a sentinel forcing a range boundary.
func (ss Subspace) PackWithSuffix(t Tuple, suffix []byte) []byte {
	return appendRaw(ss.Pack(t), suffix)
}

// Sub returns the subspace of keys starting with ss || Pack(t).
func (ss Subspace) Sub(t Tuple) Subspace {
	return Subspace(ss.Pack(t))
}

// Contains reports whether key belongs to the subspace.
func (ss Subspace) Contains(key []byte) bool {
	return bytes.HasPrefix(key, ss)
}

// Unpack strips the prefix off key and decodes the rest as a tuple.
func (ss Subspace) Unpack(key []byte) (Tuple, error) {
	if !ss.Contains(key) {
		return nil, dataErrf(key, 0, ErrMalformed, "key outside of subspace %s", hexstr(ss))
	}
	return Unpack(key[len(ss):])
}

// Range returns the range holding every key that starts with ss || Pack(t),
// i.e. all keys whose tuple has t as a prefix. An empty t covers the entire
// subspace.
//
// End is Start followed by 0xFF. No key we encode equals End: 0xFF is never a
// type code, and inside strings it only follows an escaped 0x00 that must be
// followed by more data. Keys adding more elements to t continue Start with a
// type code below 0xFF and sort before End; keys of other values either differ
// before End or extend it and sort after.
func (ss Subspace) Range(t Tuple) KeyRange {
	start := ss.Pack(t)
	return KeyRange{
		Start: start,
		End:   concat(start, []byte{codeEscape}),
	}
}

// KeyRange is a scan boundary. Start resolves to the first key >= Start, End
// resolves to the first key > End, and the scan covers the half-open interval
// between the two resolved positions.
type KeyRange struct {
	Start []byte
	End   []byte
}

// Selectors returns the key selectors to pass to Tx.GetRange.
func (r KeyRange) Selectors() (begin, end KeySelector) {
	return FirstGreaterOrEqual(r.Start), FirstGreaterThan(r.End)
}

// Contains reports whether key falls into the range assuming End is never a
// stored key itself.
func (r KeyRange) Contains(key []byte) bool {
	return bytes.Compare(key, r.Start) >= 0 && bytes.Compare(key, r.End) <= 0
}
