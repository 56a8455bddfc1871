package couchfdb

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

type Options struct {
	Logger *slog.Logger

	// Directory names the top-level directory; defaults to DefaultDirectory.
	Directory string
	// DirectoryKey overrides the well-known key derived from Directory.
	DirectoryKey []byte

	PageLimit int
	Limit     int
	Mode      StreamingMode
	// SkipBadRows makes listings skip (and log) rows that fail to decode
	// instead of failing.
	SkipBadRows bool
}

// Layer ties a Store to the catalog layout. It holds no transaction state;
// every operation takes the transaction explicitly.
type Layer struct {
	store  Store
	logger *slog.Logger
	dirKey []byte
	scan   ScanOptions
}

func New(store Store, opt Options) *Layer {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dirKey := opt.DirectoryKey
	if dirKey == nil {
		dir := opt.Directory
		if dir == "" {
			dir = DefaultDirectory
		}
		dirKey = DirectoryKey(dir)
	}
	rowErrors := RowErrorFail
	if opt.SkipBadRows {
		rowErrors = RowErrorSkip
	}
	return &Layer{
		store:  store,
		logger: logger,
		dirKey: dirKey,
		scan: ScanOptions{
			PageLimit: opt.PageLimit,
			Limit:     opt.Limit,
			Mode:      opt.Mode,
			RowErrors: rowErrors,
			Logger:    logger,
		},
	}
}

func (l *Layer) Store() Store {
	return l.store
}

func (l *Layer) DirectoryKey() []byte {
	return l.dirKey
}

// ScanOptions returns the options listings made through the layer use.
func (l *Layer) ScanOptions() ScanOptions {
	return l.scan
}

// Read runs f in a read-only transaction which is rolled back afterwards.
func (l *Layer) Read(f func(tx Tx) error) error {
	tx, err := l.store.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return safelyCall(f, tx)
}

// Write runs f in a writable transaction and commits it if f succeeds. The
// transaction is not retried.
func (l *Layer) Write(f func(tx Tx) error) error {
	tx, err := l.store.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(Tx) error, tx Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

// Root resolves the root subspace. A missing directory is an error, not an
// empty catalog.
func (l *Layer) Root(ctx context.Context, tx Tx) (Subspace, error) {
	root, err := ResolveDirectory(ctx, tx, l.dirKey)
	if err != nil {
		return nil, err
	}
	l.logger.LogAttrs(ctx, slog.LevelDebug, "resolved directory", hexAttr("key", l.dirKey), hexAttr("root", root))
	return root, nil
}

func (l *Layer) ListDatabases(ctx context.Context, tx Tx) (*RowCursor[Database], error) {
	root, err := l.Root(ctx, tx)
	if err != nil {
		return nil, err
	}
	return ListDatabases(ctx, tx, root, l.scan), nil
}

func (l *Layer) ListDocuments(ctx context.Context, tx Tx, db Database) *RowCursor[DocumentRow] {
	return ListDocuments(ctx, tx, db, l.scan)
}

// Database looks a database up by name with a point read.
func (l *Layer) Database(ctx context.Context, tx Tx, name string) (Database, bool, error) {
	root, err := l.Root(ctx, tx)
	if err != nil {
		return Database{}, false, err
	}
	key := DatabaseKey(root, name)
	v, err := tx.Get(ctx, key)
	if err != nil {
		return Database{}, false, err
	}
	if v == nil {
		return Database{}, false, nil
	}
	db, err := DecodeDatabaseRow(key, v, root)
	return db, err == nil, err
}

// Init points the directory key at root.
func (l *Layer) Init(tx Tx, root Subspace) error {
	return tx.Set(l.dirKey, root)
}

// PutDatabase registers db in the listing under root.
func (l *Layer) PutDatabase(tx Tx, root Subspace, db Database) error {
	if len(db.Subspace) == 0 {
		return fmt.Errorf("database %q: empty subspace", db.Name)
	}
	return tx.Set(DatabaseKey(root, db.Name), db.Subspace)
}

// PutDocument records a document listing entry in db.
func (l *Layer) PutDocument(tx Tx, db Database, row DocumentRow) error {
	return tx.Set(DocumentKey(db.Subspace, row.ID), EncodeRevision(row.Revision))
}
