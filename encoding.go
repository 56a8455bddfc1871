package couchfdb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding is a serialization format for exporting listings.
type Encoding int

const (
	MsgPack Encoding = iota
	JSON
)

func (enc Encoding) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return "invalid"
	}
}

func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "msgpack":
		return MsgPack, nil
	case "json":
		return JSON, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", s)
	}
}

// Encode appends the encoding of v to buf.
func (enc Encoding) Encode(buf []byte, v any) ([]byte, error) {
	switch enc {
	case MsgPack:
		bb := bytesBuilder{buf}
		e := msgpack.GetEncoder()
		e.ResetDict(&bb, nil)
		e.SetSortMapKeys(true)
		err := e.Encode(v)
		msgpack.PutEncoder(e)
		if err != nil {
			return buf, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
		}
		return bb.Buf, nil
	case JSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return buf, fmt.Errorf("failed to encode %T to JSON: %w", v, err)
		}
		return appendRaw(buf, raw), nil
	default:
		panic("unsupported encoding")
	}
}

// Decode decodes data into the value pointed to by ptr.
func (enc Encoding) Decode(data []byte, ptr any) error {
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		d := msgpack.GetDecoder()
		d.ResetDict(&r, nil)
		err := d.Decode(ptr)
		msgpack.PutDecoder(d)
		if err != nil {
			return dataErrf(data, 0, err, "failed to decode msgpack into %T", ptr)
		}
		return nil
	case JSON:
		err := json.Unmarshal(data, ptr)
		if err != nil {
			return dataErrf(data, 0, err, "failed to decode JSON into %T", ptr)
		}
		return nil
	default:
		panic("unsupported encoding")
	}
}

// DatabaseListing is the export form of a database with its documents.
type DatabaseListing struct {
	Database  `msgpack:",inline"`
	Documents []DocumentRow `msgpack:"docs,omitempty" json:"docs,omitempty"`
}
