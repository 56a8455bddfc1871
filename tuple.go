package couchfdb

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Tuple is an ordered sequence of typed elements. Supported element types are
// nil, []byte, string, Go integer types and nested Tuple values.
//
// Tuples are encoded using the FoundationDB tuple layer format, which is
// order-preserving: comparing two encoded tuples byte by byte gives the same
// result as comparing the tuples element by element (see CompareTuples).
type Tuple []any

// Kind identifies the type of a tuple element.
type Kind int

const (
	KindNil Kind = iota
	KindBytes
	KindString
	KindNested
	KindInt

	kindInvalid = Kind(-1)
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindNested:
		return "nested"
	case KindInt:
		return "int"
	default:
		return "invalid"
	}
}

// Type codes. Every code we emit is below codeEscape; range construction
// relies on that (see Subspace.Range).
const (
	codeNil     = 0x00
	codeBytes   = 0x01
	codeString  = 0x02
	codeNested  = 0x05
	codeNegInt8 = 0x0c
	codeIntZero = 0x14
	codePosInt8 = 0x1c
	codeEscape  = 0xFF
)

func kindOf(code byte) Kind {
	switch {
	case code == codeNil:
		return KindNil
	case code == codeBytes:
		return KindBytes
	case code == codeString:
		return KindString
	case code == codeNested:
		return KindNested
	case code >= codeNegInt8 && code <= codePosInt8:
		return KindInt
	default:
		return kindInvalid
	}
}

// Pack encodes the tuple.
func Pack(t Tuple) []byte {
	return AppendTuple(nil, t)
}

// AppendTuple appends the encoding of t to buf. It panics if t contains an
// element of an unsupported type.
func AppendTuple(buf []byte, t Tuple) []byte {
	for _, el := range t {
		buf = appendElement(buf, el, false)
	}
	return buf
}

func appendElement(buf []byte, el any, nested bool) []byte {
	switch v := el.(type) {
	case nil:
		buf = appendByte(buf, codeNil)
		if nested {
			buf = appendByte(buf, codeEscape)
		}
		return buf
	case []byte:
		return appendEscaped(appendByte(buf, codeBytes), v)
	case string:
		return appendEscaped(appendByte(buf, codeString), v)
	case Tuple:
		buf = appendByte(buf, codeNested)
		for _, sub := range v {
			buf = appendElement(buf, sub, true)
		}
		return appendByte(buf, codeNil)
	}
	neg, mag, ok := intParts(el)
	if !ok {
		panic(fmt.Errorf("couchfdb: unsupported tuple element type %T", el))
	}
	return appendInt(buf, neg, mag)
}

func appendEscaped[S ~string | ~[]byte](buf []byte, s S) []byte {
	for i := 0; i < len(s); i++ {
		buf = appendByte(buf, s[i])
		if s[i] == codeNil {
			buf = appendByte(buf, codeEscape)
		}
	}
	return appendByte(buf, codeNil)
}

// appendInt writes a minimal big-endian magnitude. Negative values are stored
// as the ones' complement of the magnitude so that they sort below positives
// and in the right order among themselves.
func appendInt(buf []byte, neg bool, mag uint64) []byte {
	if mag == 0 {
		return appendByte(buf, codeIntZero)
	}
	n := (bits.Len64(mag) + 7) / 8
	if neg {
		buf = appendByte(buf, byte(codeIntZero-n))
		mag = ^mag
	} else {
		buf = appendByte(buf, byte(codeIntZero+n))
	}
	off, buf := grow(buf, n)
	for i := 0; i < n; i++ {
		buf[off+i] = byte(mag >> (8 * (n - 1 - i)))
	}
	return buf
}

// intParts splits a Go integer into sign and magnitude.
func intParts(v any) (neg bool, mag uint64, ok bool) {
	var i int64
	switch v := v.(type) {
	case int:
		i = int64(v)
	case int8:
		i = int64(v)
	case int16:
		i = int64(v)
	case int32:
		i = int64(v)
	case int64:
		i = v
	case uint:
		return false, uint64(v), true
	case uint8:
		return false, uint64(v), true
	case uint16:
		return false, uint64(v), true
	case uint32:
		return false, uint64(v), true
	case uint64:
		return false, v, true
	default:
		return false, 0, false
	}
	if i < 0 {
		return true, uint64(^i) + 1, true
	}
	return false, uint64(i), true
}

// Unpack decodes a tuple of any shape. It fails if data has trailing bytes.
func Unpack(data []byte) (Tuple, error) {
	d := newTupleDecoder(data)
	t := Tuple{}
	for d.More() {
		el, err := d.Any()
		if err != nil {
			return nil, err
		}
		t = append(t, el)
	}
	return t, nil
}

// DecodeTuple decodes a tuple that must have exactly the given shape.
func DecodeTuple(data []byte, shape ...Kind) (Tuple, error) {
	d := newTupleDecoder(data)
	t := make(Tuple, 0, len(shape))
	for _, k := range shape {
		el, err := d.Kind(k)
		if err != nil {
			return nil, err
		}
		t = append(t, el)
	}
	if err := d.End(); err != nil {
		return nil, err
	}
	return t, nil
}

// tupleDecoder reads tuple elements one at a time with explicit expected
// kinds, so that row decoders can report shape problems precisely.
type tupleDecoder struct {
	Orig []byte
	Buf  []byte
}

func newTupleDecoder(data []byte) *tupleDecoder {
	return &tupleDecoder{data, data}
}

func (d *tupleDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *tupleDecoder) More() bool {
	return len(d.Buf) > 0
}

func (d *tupleDecoder) End() error {
	if len(d.Buf) != 0 {
		return dataErrf(d.Orig, d.Off(), ErrMalformed, "%d trailing bytes after tuple", len(d.Buf))
	}
	return nil
}

func (d *tupleDecoder) expect(kind Kind) error {
	if len(d.Buf) == 0 {
		return dataErrf(d.Orig, d.Off(), ErrTruncated, "expected %v element, got end of data", kind)
	}
	actual := kindOf(d.Buf[0])
	if actual == kindInvalid {
		return dataErrf(d.Orig, d.Off(), ErrMalformed, "unknown type code 0x%02x", d.Buf[0])
	}
	if actual != kind {
		return dataErrf(d.Orig, d.Off(), ErrTypeMismatch, "expected %v element, got %v", kind, actual)
	}
	return nil
}

func (d *tupleDecoder) Kind(kind Kind) (any, error) {
	switch kind {
	case KindNil:
		return nil, d.Nil()
	case KindBytes:
		return d.Bytes()
	case KindString:
		return d.Str()
	case KindNested:
		return d.Nested()
	case KindInt:
		return d.Int()
	default:
		panic(fmt.Errorf("invalid kind %d", kind))
	}
}

// Any decodes the next element whatever its type is.
func (d *tupleDecoder) Any() (any, error) {
	if len(d.Buf) == 0 {
		return nil, dataErrf(d.Orig, d.Off(), ErrTruncated, "expected element, got end of data")
	}
	switch kindOf(d.Buf[0]) {
	case KindNil:
		return nil, d.Nil()
	case KindBytes:
		return d.Bytes()
	case KindString:
		return d.Str()
	case KindNested:
		return d.Nested()
	case KindInt:
		neg, mag, err := d.intParts()
		if err != nil {
			return nil, err
		}
		if !neg && mag > math.MaxInt64 {
			return mag, nil
		}
		return signed(neg, mag), nil
	default:
		return nil, dataErrf(d.Orig, d.Off(), ErrMalformed, "unknown type code 0x%02x", d.Buf[0])
	}
}

func (d *tupleDecoder) Nil() error {
	if err := d.expect(KindNil); err != nil {
		return err
	}
	d.Buf = d.Buf[1:]
	return nil
}

func (d *tupleDecoder) Bytes() ([]byte, error) {
	if err := d.expect(KindBytes); err != nil {
		return nil, err
	}
	return d.escaped()
}

func (d *tupleDecoder) Str() (string, error) {
	if err := d.expect(KindString); err != nil {
		return "", err
	}
	off := d.Off()
	raw, err := d.escaped()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", dataErrf(d.Orig, off, ErrMalformed, "invalid UTF-8 in string element")
	}
	return string(raw), nil
}

// escaped reads a 0x00-terminated body with 0x00 0xFF escapes, starting at
// the type code. The result never aliases the input.
func (d *tupleDecoder) escaped() ([]byte, error) {
	start := d.Off()
	buf := d.Buf[1:]
	out := []byte{}
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if b != codeNil {
			out = append(out, b)
			continue
		}
		if i+1 < len(buf) && buf[i+1] == codeEscape {
			out = append(out, codeNil)
			i++
			continue
		}
		d.Buf = buf[i+1:]
		return out, nil
	}
	return nil, dataErrf(d.Orig, start, ErrTruncated, "unterminated %v element", kindOf(d.Orig[start]))
}

func (d *tupleDecoder) Nested() (Tuple, error) {
	if err := d.expect(KindNested); err != nil {
		return nil, err
	}
	start := d.Off()
	d.Buf = d.Buf[1:]
	t := Tuple{}
	for {
		if len(d.Buf) == 0 {
			return nil, dataErrf(d.Orig, start, ErrTruncated, "unterminated nested tuple")
		}
		if d.Buf[0] == codeNil {
			if len(d.Buf) > 1 && d.Buf[1] == codeEscape {
				t = append(t, nil)
				d.Buf = d.Buf[2:]
				continue
			}
			d.Buf = d.Buf[1:]
			return t, nil
		}
		el, err := d.Any()
		if err != nil {
			return nil, err
		}
		t = append(t, el)
	}
}

// Int decodes an integer element that must fit into int64.
func (d *tupleDecoder) Int() (int64, error) {
	if err := d.expect(KindInt); err != nil {
		return 0, err
	}
	off := d.Off()
	neg, mag, err := d.intParts()
	if err != nil {
		return 0, err
	}
	if !neg && mag > math.MaxInt64 {
		return 0, dataErrf(d.Orig, off, ErrMalformed, "integer %d overflows int64", mag)
	}
	return signed(neg, mag), nil
}

func (d *tupleDecoder) intParts() (neg bool, mag uint64, err error) {
	off := d.Off()
	code := int(d.Buf[0])
	n := code - codeIntZero
	if n == 0 {
		d.Buf = d.Buf[1:]
		return false, 0, nil
	}
	neg = n < 0
	if neg {
		n = -n
	}
	if len(d.Buf)-1 < n {
		return false, 0, dataErrf(d.Orig, off, ErrTruncated, "integer needs %d bytes, %d remaining", n, len(d.Buf)-1)
	}
	raw := d.Buf[1 : 1+n]
	for _, b := range raw {
		mag = mag<<8 | uint64(b)
	}
	if neg {
		mag = ^mag
		if n < 8 {
			mag &= 1<<(8*n) - 1
		}
	}
	if mag>>(8*(n-1)) == 0 {
		return false, 0, dataErrf(d.Orig, off, ErrMalformed, "non-canonical %d-byte integer", n)
	}
	if neg && mag > 1<<63 {
		return false, 0, dataErrf(d.Orig, off, ErrMalformed, "integer -%d overflows int64", mag)
	}
	d.Buf = d.Buf[1+n:]
	return neg, mag, nil
}

func signed(neg bool, mag uint64) int64 {
	if neg {
		return int64(^(mag - 1))
	}
	return int64(mag)
}

// CompareTuples orders tuples the same way their encodings are ordered:
// element by element, shorter prefix first. Elements of different kinds are
// ordered nil < bytes < string < nested < integer.
func CompareTuples(a, b Tuple) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareElements(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func elementKind(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNil
	case []byte:
		return KindBytes
	case string:
		return KindString
	case Tuple:
		return KindNested
	}
	if _, _, ok := intParts(v); ok {
		return KindInt
	}
	panic(fmt.Errorf("couchfdb: unsupported tuple element type %T", v))
}

func compareElements(a, b any) int {
	ka, kb := elementKind(a), elementKind(b)
	if ka != kb {
		return cmpInt(int(ka), int(kb))
	}
	switch ka {
	case KindBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	case KindString:
		return strings.Compare(a.(string), b.(string))
	case KindNested:
		return CompareTuples(a.(Tuple), b.(Tuple))
	case KindInt:
		an, am, _ := intParts(a)
		bn, bm, _ := intParts(b)
		switch {
		case an && !bn:
			return -1
		case !an && bn:
			return 1
		case an:
			return cmpUint(bm, am)
		default:
			return cmpUint(am, bm)
		}
	default:
		return 0
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (t Tuple) String() string {
	var buf strings.Builder
	buf.WriteByte('(')
	for i, el := range t {
		if i > 0 {
			buf.WriteString(", ")
		}
		switch v := el.(type) {
		case nil:
			buf.WriteString("nil")
		case []byte:
			buf.WriteByte('b')
			buf.WriteString(strconv.Quote(string(v)))
		case string:
			buf.WriteString(strconv.Quote(v))
		case Tuple:
			buf.WriteString(v.String())
		default:
			fmt.Fprint(&buf, v)
		}
	}
	buf.WriteByte(')')
	return buf.String()
}
