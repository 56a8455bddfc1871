package couchfdb

import (
	"context"
	"fmt"
)

// Well-known tuple elements that mark the listing namespaces.
const (
	// AllDatabasesMarker prefixes the database listing inside the root
	// directory: root || (1, name) => database subspace.
	AllDatabasesMarker = 1
	// AllDocsMarker prefixes the document listing inside a database subspace:
	// db || (18, id) => (generation, hash).
	AllDocsMarker = 18
)

// DefaultDirectory is the directory path the catalog lives under.
const DefaultDirectory = "couchdb"

const dirNodePrefix = 0xFE

// DirectoryKey returns the well-known key whose value is the prefix
// allocated to the top-level directory with the given name. It follows the
// node layout of the FoundationDB directory layer: the root node lives at
// 0xFE || (0xFE,), and its subdirectories at root-node || (0, name).
func DirectoryKey(name string) []byte {
	nodes := Subspace{dirNodePrefix}
	rootNode := nodes.Sub(Tuple{[]byte{dirNodePrefix}})
	return rootNode.Pack(Tuple{0, name})
}

// Database is one entry of the database listing.
type Database struct {
	Name     string   `msgpack:"name" json:"name"`
	Subspace Subspace `msgpack:"subspace" json:"subspace"`
}

// DocumentRow is one entry of a database's document listing.
type DocumentRow struct {
	ID       string   `msgpack:"id" json:"id"`
	Revision Revision `msgpack:"rev" json:"rev"`
}

// ResolveDirectory reads the root subspace stored under key.
func ResolveDirectory(ctx context.Context, tx Tx, key []byte) (Subspace, error) {
	v, err := tx.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}
	if v == nil {
		return nil, catalogErrf(nil, key, ErrDirectoryMissing, nil, "no directory key")
	}
	return Subspace(v), nil
}

func databaseListing(root Subspace) Subspace {
	return root.Sub(Tuple{AllDatabasesMarker})
}

func documentListing(db Subspace) Subspace {
	return db.Sub(Tuple{AllDocsMarker})
}

// DatabaseListingRange covers every database listed under root.
func DatabaseListingRange(root Subspace) KeyRange {
	return root.Range(Tuple{AllDatabasesMarker})
}

// DocumentListingRange covers every document listed in the database.
func DocumentListingRange(db Subspace) KeyRange {
	return db.Range(Tuple{AllDocsMarker})
}

// DatabaseKey is the listing key of the named database.
func DatabaseKey(root Subspace, name string) []byte {
	return root.Pack(Tuple{AllDatabasesMarker, []byte(name)})
}

// DocumentKey is the listing key of the document in the database.
func DocumentKey(db Subspace, id string) []byte {
	return db.Pack(Tuple{AllDocsMarker, []byte(id)})
}

// DecodeDatabaseRow turns one database listing pair into a Database. The
// value is copied and used verbatim as the database's subspace; it must not
// be empty, since an empty prefix would contain every key.
func DecodeDatabaseRow(key, value []byte, root Subspace) (Database, error) {
	listing := databaseListing(root)
	name, err := decodeListingName(key, listing)
	if err != nil {
		return Database{}, err
	}
	if len(value) == 0 {
		return Database{}, catalogErrf(listing, key, ErrUnexpectedKeyShape, nil, "database %q: empty database subspace", name)
	}
	return Database{
		Name:     name,
		Subspace: Subspace(append([]byte{}, value...)),
	}, nil
}

// DecodeDocumentRow turns one document listing pair into a DocumentRow.
func DecodeDocumentRow(key, value []byte, db Subspace) (DocumentRow, error) {
	listing := documentListing(db)
	id, err := decodeListingName(key, listing)
	if err != nil {
		return DocumentRow{}, err
	}
	rev, err := DecodeRevision(value)
	if err != nil {
		return DocumentRow{}, catalogErrf(listing, key, nil, err, "document %q: bad revision value", id)
	}
	return DocumentRow{ID: id, Revision: rev}, nil
}

// decodeListingName strips the listing prefix and decodes the residual
// tuple, which must consist of exactly one byte string.
func decodeListingName(key []byte, listing Subspace) (string, error) {
	if !listing.Contains(key) {
		return "", catalogErrf(listing, key, ErrUnexpectedKeyShape, nil, "key outside of listing")
	}
	d := newTupleDecoder(key[len(listing):])
	name, err := d.Bytes()
	if err == nil {
		err = d.End()
	}
	if err != nil {
		return "", catalogErrf(listing, key, ErrUnexpectedKeyShape, err, "wanted (bytes)")
	}
	return string(name), nil
}
