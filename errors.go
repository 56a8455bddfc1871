package couchfdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTruncated means the data ended before the element being decoded.
	ErrTruncated = errors.New("truncated")
	// ErrTypeMismatch means the type code does not match the expected element kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrMalformed means the data is not a valid encoding of the declared type.
	ErrMalformed = errors.New("malformed")

	ErrDirectoryMissing   = errors.New("directory missing")
	ErrUnexpectedKeyShape = errors.New("unexpected key shape")

	// ErrStoreUnavailable is returned by backends once the store is closed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DataError reports undecodable bytes. Err is one of ErrTruncated,
// ErrTypeMismatch or ErrMalformed.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// CatalogError reports a key or value in the catalog that does not have the
// layout this package expects. Kind is ErrDirectoryMissing or
// ErrUnexpectedKeyShape, or nil for undecodable values, in which case Err (a
// *DataError) tells what is wrong.
type CatalogError struct {
	Subspace Subspace
	Key      []byte
	Kind     error
	Msg      string
	Err      error
}

func catalogErrf(ss Subspace, key []byte, kind, err error, format string, args ...any) error {
	return &CatalogError{ss, key, kind, fmt.Sprintf(format, args...), err}
}

func (e *CatalogError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *CatalogError) Error() string {
	var buf strings.Builder
	if e.Kind != nil {
		buf.WriteString(e.Kind.Error())
	} else {
		buf.WriteString("bad catalog row")
	}
	if e.Subspace != nil {
		buf.WriteString(" in ")
		buf.WriteString(hexstr(e.Subspace))
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// ScanError wraps a failure of the underlying store during a range scan. The
// store's error is kept intact, so errors.Is(err, context.Canceled) and similar
// checks keep working.
type ScanError struct {
	Range KeyRange
	Err   error
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan [%s, %s]: %v", hexstr(e.Range.Start), hexstr(e.Range.End), e.Err)
}
