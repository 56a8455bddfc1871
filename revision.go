package couchfdb

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Revision identifies a version of a document: a generation counter and a
// content hash. Its canonical text form is "<generation>-<hex hash>", which
// is also its TextMarshaler form, so JSON exports carry it as a string.
type Revision struct {
	Generation int64
	Hash       []byte
}

func (rev Revision) String() string {
	return strconv.FormatInt(rev.Generation, 10) + "-" + hex.EncodeToString(rev.Hash)
}

func (rev Revision) MarshalText() ([]byte, error) {
	return []byte(rev.String()), nil
}

func (rev *Revision) UnmarshalText(text []byte) error {
	r, err := ParseRevision(string(text))
	if err != nil {
		return err
	}
	*rev = r
	return nil
}

func (rev Revision) Equal(another Revision) bool {
	return rev.Generation == another.Generation && bytes.Equal(rev.Hash, another.Hash)
}

// EncodeRevision packs the revision as a (generation, hash) tuple.
func EncodeRevision(rev Revision) []byte {
	return Pack(Tuple{rev.Generation, rev.Hash})
}

// DecodeRevision is the inverse of EncodeRevision.
func DecodeRevision(data []byte) (Revision, error) {
	d := newTupleDecoder(data)
	gen, err := d.Int()
	if err != nil {
		return Revision{}, err
	}
	if gen < 0 {
		return Revision{}, dataErrf(data, 0, ErrMalformed, "negative revision generation %d", gen)
	}
	hash, err := d.Bytes()
	if err != nil {
		return Revision{}, err
	}
	if err := d.End(); err != nil {
		return Revision{}, err
	}
	return Revision{gen, hash}, nil
}

// ParseRevision parses the "<generation>-<hex hash>" form. Hex digits may
// be in any case.
func ParseRevision(s string) (Revision, error) {
	genStr, hashStr, ok := strings.Cut(s, "-")
	if !ok {
		return Revision{}, fmt.Errorf("invalid revision %q: missing '-'", s)
	}
	gen, err := strconv.ParseInt(genStr, 10, 64)
	if err != nil || gen < 0 {
		return Revision{}, fmt.Errorf("invalid revision %q: bad generation", s)
	}
	hash, err := hex.DecodeString(hashStr)
	if err != nil {
		return Revision{}, fmt.Errorf("invalid revision %q: %w", s, err)
	}
	return Revision{gen, hash}, nil
}
