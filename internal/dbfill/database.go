// Package dbfill builds a PostgreSQL database by running an ordered queue of
// fillers against one session.
//
// Usage:
//
//	db, err := dbfill.Open(ctx, opts)
//	if err != nil { ... }
//	defer db.Close(ctx)
//
//	if err := db.InitDB(ctx); err != nil { ... }
//	if err := db.AddFiller(ctx, dbfill.NewSampleFiller(dbfill.BaseOptions{})); err != nil { ... }
//	if err := db.FillDB(ctx); err != nil { ... }
package dbfill

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/database/postgres"
	"github.com/koustreak/dbfill/internal/errs"
	"github.com/koustreak/dbfill/internal/filestore"
	"github.com/koustreak/dbfill/internal/logger"
)

//go:embed initscript.sql
var coreInitScript string

// TablesWhitelist lists the tables CleanDB never drops.
var TablesWhitelist = []string{"spatial_ref_sys"}

// Database owns one live session and the ordered queue of fillers applied
// through it. It is not safe for concurrent use.
type Database struct {
	conn database.Conn
	info database.ConnInfo

	dataFolder string
	schema     string

	preInitScript  string
	initScript     string
	postInitScript string

	registerExec bool
	execFile     string

	fillers []Filler

	log        *logger.Logger
	tracer     trace.Tracer
	httpClient *http.Client
	store      filestore.Store
}

// Open resolves the search path, connects (creating the target database if
// needed), ensures the explicit schema and creates the data folder.
func Open(ctx context.Context, opts Options) (*Database, error) {
	log := opts.logger().Component("database")
	connector := postgres.NewConnector(opts.FallbackDB, log)
	if opts.Dial != nil {
		connector.Dial = opts.Dial
	}

	info := opts.Conn
	req := database.SearchPathRequest{Schema: opts.Schema, Additional: opts.AdditionalSearchPath}
	path, err := connector.ResolveSearchPath(ctx, info, req)
	if err != nil {
		return nil, err
	}
	if path != nil {
		info = info.WithSearchPath(path)
	}

	conn, err := connector.Connect(ctx, info)
	if err != nil {
		return nil, err
	}

	db, err := newDatabase(ctx, conn, info, opts)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return db, nil
}

// newDatabase finishes construction on an open session.
func newDatabase(ctx context.Context, conn database.Conn, info database.ConnInfo, opts Options) (*Database, error) {
	db := &Database{
		conn:           conn,
		info:           info,
		dataFolder:     opts.dataFolder(),
		schema:         opts.Schema,
		preInitScript:  opts.PreInitScript,
		initScript:     opts.InitScript,
		postInitScript: opts.PostInitScript,
		registerExec:   opts.RegisterExec,
		execFile:       opts.ExecFile,
		log:            opts.logger().Component("database"),
		tracer:         opts.tracer(),
		httpClient:     opts.httpClient(),
		store:          opts.Store,
	}
	if db.initScript == "" {
		db.initScript = coreInitScript
	}

	if db.schema != "" {
		created, err := postgres.EnsureSchema(ctx, conn, db.schema)
		if err != nil {
			return nil, err
		}
		if created {
			db.log.Infof("created schema %s", db.schema)
		}
	}

	if err := os.MkdirAll(db.dataFolder, 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("create data folder %s", db.dataFolder), err)
	}
	return db, nil
}

// Close terminates the session. Registered fillers are left as they are.
func (db *Database) Close(ctx context.Context) error {
	return db.conn.Close(ctx)
}

// DataFolder is the default artifact folder of registered fillers.
func (db *Database) DataFolder() string { return db.dataFolder }

// SearchPath is the search path applied to the session, nil when none was
// resolved.
func (db *Database) SearchPath() []string { return db.info.SearchPath }

// Fillers returns the registered fillers in registration order.
func (db *Database) Fillers() []Filler {
	out := make([]Filler, len(db.fillers))
	copy(out, db.fillers)
	return out
}

// Logger returns the database logger.
func (db *Database) Logger() *logger.Logger { return db.log }

// CheckSQLNameSafe is the identifier guard applied before any name is
// interpolated into SQL.
func CheckSQLNameSafe(s string) error { return database.CheckSQLNameSafe(s) }

// InitDB runs the pre, core and post init scripts in one transaction. Empty
// fragments are skipped. With RegisterExec set, the exec file is recorded in
// the same transaction.
func (db *Database) InitDB(ctx context.Context) error {
	fragments := []struct{ name, sql string }{
		{"pre", db.preInitScript},
		{"core", db.initScript},
		{"post", db.postInitScript},
	}

	err := database.InTx(ctx, db.conn, func(tx database.Tx) error {
		for _, f := range fragments {
			if strings.TrimSpace(f.sql) == "" {
				continue
			}
			db.log.Debugf("running %s init script", f.name)
			if _, err := tx.Exec(ctx, f.sql); err != nil {
				return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("%s init script failed", f.name), err)
			}
		}
		if db.registerExec {
			return db.registerExecContent(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.log.Info("database initialized")
	return nil
}

// CleanDB drops every base table of the current schema except the whitelist
// and extraWhitelist. All names are checked before anything is dropped.
func (db *Database) CleanDB(ctx context.Context, extraWhitelist ...string) error {
	tables, err := db.Tables(ctx)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(TablesWhitelist)+len(extraWhitelist))
	for _, t := range append(append([]string{}, TablesWhitelist...), extraWhitelist...) {
		keep[t] = struct{}{}
	}

	var drop []string
	for _, t := range tables {
		if _, ok := keep[t]; ok {
			continue
		}
		if err := database.CheckSQLNameSafe(t); err != nil {
			return err
		}
		drop = append(drop, t)
	}

	err = database.InTx(ctx, db.conn, func(tx database.Tx) error {
		for _, t := range drop {
			if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+database.QuoteIdent(t)+" CASCADE"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.log.With().Strs("tables", drop).Logger().Info("database cleaned")
	return nil
}

// Tables lists the base tables of the current schema.
func (db *Database) Tables(ctx context.Context) ([]string, error) {
	return postgres.ListTables(ctx, db.conn)
}

// TableExists reports whether table resolves through the search path.
func (db *Database) TableExists(ctx context.Context, table string) (bool, error) {
	return postgres.TableExists(ctx, db.conn, table)
}

// TableColumns lists the columns of table in ordinal order.
func (db *Database) TableColumns(ctx context.Context, table string) ([]string, error) {
	return postgres.TableColumns(ctx, db.conn, table)
}

// CheckEmpty reports whether table holds no row.
func (db *Database) CheckEmpty(ctx context.Context, table string) (bool, error) {
	if err := database.CheckSQLNameSafe(table); err != nil {
		return false, err
	}
	var empty bool
	stmt := "SELECT NOT EXISTS (SELECT 1 FROM " + database.QuoteIdent(table) + ")"
	if err := db.conn.QueryRow(ctx, stmt).Scan(&empty); err != nil {
		return false, err
	}
	return empty, nil
}

// Exec runs sql outside any transaction.
func (db *Database) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return db.conn.Exec(ctx, sql, args...)
}

// Query runs sql and returns its rows.
func (db *Database) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	return db.conn.Query(ctx, sql, args...)
}

// QueryRow runs sql returning at most one row.
func (db *Database) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return db.conn.QueryRow(ctx, sql, args...)
}

// InTx runs fn in a transaction committed when fn succeeds.
func (db *Database) InTx(ctx context.Context, fn func(tx database.Tx) error) error {
	return database.InTx(ctx, db.conn, fn)
}
