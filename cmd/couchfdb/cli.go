package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/andreyvit/couchfdb"
)

type cmdDbs struct {
	Limit  int    `help:"Maximum number of databases to list."`
	Format string `enum:"text,json,msgpack" default:"text" help:"Output format: text, json or msgpack."`
}

type cmdDocs struct {
	DB     string `arg:"" name:"db" help:"Database name."`
	Page   int    `help:"Rows fetched per store read; 0 leaves it to the streaming mode."`
	Limit  int    `help:"Maximum number of documents to list."`
	Format string `enum:"text,json,msgpack" default:"text" help:"Output format: text, json or msgpack."`
}

type cmdDump struct {
	Docs bool `help:"Include document rows."`
	Keys bool `help:"Include raw listing keys."`
}

type cmdInit struct {
	Prefix string `arg:"" help:"Hex-encoded root subspace prefix."`
}

type cmdPutDB struct {
	Name     string `arg:"" help:"Database name."`
	Subspace string `arg:"" help:"Hex-encoded database subspace prefix."`
}

type cmdPutDoc struct {
	DB  string `arg:"" name:"db" help:"Database name."`
	ID  string `arg:"" name:"id" help:"Document id."`
	Rev string `arg:"" help:"Revision as <generation>-<hex hash>."`
}

// CLI is the command-line grammar.
type CLI struct {
	Store       string `env:"COUCHFDB_STORE" help:"Store to open: bolt:<path> or leveldb:<path>."`
	Directory   string `default:"couchdb" env:"COUCHFDB_DIRECTORY" help:"Name of the directory holding the catalog."`
	SkipBadRows bool   `help:"Skip (and log) malformed listing rows instead of failing."`
	Verbose     bool   `short:"v" help:"Log debug messages."`

	Dbs    cmdDbs    `cmd:"" help:"List databases."`
	Docs   cmdDocs   `cmd:"" help:"List the documents of a database."`
	Dump   cmdDump   `cmd:"" help:"Print the whole catalog."`
	Init   cmdInit   `cmd:"" help:"Point the directory at a root subspace."`
	PutDB  cmdPutDB  `cmd:"" name:"put-db" help:"Add a database to the listing."`
	PutDoc cmdPutDoc `cmd:"" name:"put-doc" help:"Add a document row to a database's listing."`
}

type CliConfig struct {
	Name        string
	Description string
	Stdout      io.Writer
	Stderr      io.Writer
	Exit        func(int)
}

// Cli parses args and runs the selected command.
func Cli(ctx context.Context, args []string, config *CliConfig) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(config.Stderr, &slog.HandlerOptions{Level: level}))

	cmd := kctx.Command()
	readonly := !strings.HasPrefix(cmd, "init") && !strings.HasPrefix(cmd, "put-")
	store, err := openStore(cli.Store, readonly)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Debug("opened store", "store", cli.Store, "readonly", readonly, "cmd", cmd)

	opt := couchfdb.Options{
		Logger:      logger,
		Directory:   cli.Directory,
		SkipBadRows: cli.SkipBadRows,
	}
	switch cmd {
	case "dbs":
		opt.Limit = cli.Dbs.Limit
		return listDatabases(ctx, couchfdb.New(store, opt), config.Stdout, cli.Dbs.Format)
	case "docs <db>":
		opt.Limit = cli.Docs.Limit
		opt.PageLimit = cli.Docs.Page
		return listDocuments(ctx, couchfdb.New(store, opt), config.Stdout, cli.Docs.DB, cli.Docs.Format)
	case "dump":
		flags := couchfdb.DumpDatabases
		if cli.Dump.Docs {
			flags |= couchfdb.DumpDocuments
		}
		if cli.Dump.Keys {
			flags |= couchfdb.DumpKeys
		}
		l := couchfdb.New(store, opt)
		return l.Read(func(tx couchfdb.Tx) error {
			out, err := l.Dump(ctx, tx, flags)
			io.WriteString(config.Stdout, out)
			return err
		})
	case "init <prefix>":
		prefix, err := parseHex("prefix", cli.Init.Prefix)
		if err != nil {
			return err
		}
		l := couchfdb.New(store, opt)
		return l.Write(func(tx couchfdb.Tx) error {
			return l.Init(tx, prefix)
		})
	case "put-db <name> <subspace>":
		ss, err := parseHex("subspace", cli.PutDB.Subspace)
		if err != nil {
			return err
		}
		l := couchfdb.New(store, opt)
		return l.Write(func(tx couchfdb.Tx) error {
			root, err := l.Root(ctx, tx)
			if err != nil {
				return err
			}
			return l.PutDatabase(tx, root, couchfdb.Database{Name: cli.PutDB.Name, Subspace: ss})
		})
	case "put-doc <db> <id> <rev>":
		rev, err := couchfdb.ParseRevision(cli.PutDoc.Rev)
		if err != nil {
			return err
		}
		l := couchfdb.New(store, opt)
		return l.Write(func(tx couchfdb.Tx) error {
			db, err := lookupDatabase(ctx, l, tx, cli.PutDoc.DB)
			if err != nil {
				return err
			}
			return l.PutDocument(tx, db, couchfdb.DocumentRow{ID: cli.PutDoc.ID, Revision: rev})
		})
	default:
		return fmt.Errorf("unrecognized command: %s", cmd)
	}
}

func openStore(dsn string, readonly bool) (couchfdb.Store, error) {
	kind, path, ok := strings.Cut(dsn, ":")
	if !ok || path == "" {
		return nil, fmt.Errorf("invalid store %q, wanted bolt:<path> or leveldb:<path>", dsn)
	}
	switch kind {
	case "bolt":
		return couchfdb.OpenBolt(path, couchfdb.BoltOptions{ReadOnly: readonly})
	case "leveldb":
		return couchfdb.OpenLevelDB(path, couchfdb.LevelDBOptions{ReadOnly: readonly, ErrorIfMissing: readonly})
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

func parseHex(what, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty %s", what)
	}
	return b, nil
}

func lookupDatabase(ctx context.Context, l *couchfdb.Layer, tx couchfdb.Tx, name string) (couchfdb.Database, error) {
	db, found, err := l.Database(ctx, tx, name)
	if err != nil {
		return db, err
	}
	if !found {
		return db, fmt.Errorf("database %q not found", name)
	}
	return db, nil
}

func listDatabases(ctx context.Context, l *couchfdb.Layer, w io.Writer, format string) error {
	return l.Read(func(tx couchfdb.Tx) error {
		c, err := l.ListDatabases(ctx, tx)
		if err != nil {
			return err
		}
		if format == "text" {
			for db := range c.All() {
				fmt.Fprintf(w, "%s\t%x\n", db.Name, db.Subspace.Bytes())
			}
			return c.Err()
		}
		dbs, err := couchfdb.Collect(c)
		if err != nil {
			return err
		}
		return export(w, format, dbs)
	})
}

func listDocuments(ctx context.Context, l *couchfdb.Layer, w io.Writer, name, format string) error {
	return l.Read(func(tx couchfdb.Tx) error {
		db, err := lookupDatabase(ctx, l, tx, name)
		if err != nil {
			return err
		}
		c := l.ListDocuments(ctx, tx, db)
		if format == "text" {
			for row := range c.All() {
				fmt.Fprintf(w, "%s\t%s\n", row.ID, row.Revision)
			}
			return c.Err()
		}
		rows, err := couchfdb.Collect(c)
		if err != nil {
			return err
		}
		return export(w, format, couchfdb.DatabaseListing{Database: db, Documents: rows})
	})
}

func export(w io.Writer, format string, v any) error {
	enc, err := couchfdb.ParseEncoding(format)
	if err != nil {
		return err
	}
	data, err := enc.Encode(nil, v)
	if err != nil {
		return err
	}
	if enc == couchfdb.JSON {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}
