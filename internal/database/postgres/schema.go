package postgres

import (
	"context"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/errs"
)

// SchemaExists reports whether a schema named name exists.
func SchemaExists(ctx context.Context, q database.Querier, name string) (bool, error) {
	const stmt = `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.schemata
			WHERE schema_name = $1
		)`

	var exists bool
	if err := q.QueryRow(ctx, stmt, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// EnsureSchema creates schema name unless it already exists, in its own
// committed transaction.
func EnsureSchema(ctx context.Context, conn database.Conn, name string) (created bool, err error) {
	if err := database.CheckSQLNameSafe(name); err != nil {
		return false, err
	}
	exists, err := SchemaExists(ctx, conn, name)
	if err != nil || exists {
		return false, err
	}
	err = database.InTx(ctx, conn, func(tx database.Tx) error {
		_, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+database.QuoteIdent(name))
		return err
	})
	return err == nil, err
}

// ListTables returns the base tables of the current schema (the first
// existing schema of the search path), ordered by name.
func ListTables(ctx context.Context, q database.Querier) ([]string, error) {
	const stmt = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := q.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return database.CollectStrings(rows)
}

// TableExists reports whether table resolves through the current search path.
func TableExists(ctx context.Context, q database.Querier, table string) (bool, error) {
	const stmt = `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = ANY (current_schemas(false))
			  AND table_name   = $1
		)`

	var exists bool
	if err := q.QueryRow(ctx, stmt, table).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// TableColumns returns the column names of table, resolved through the
// current search path, in ordinal order. An unknown table yields NotFound.
func TableColumns(ctx context.Context, q database.Querier, table string) ([]string, error) {
	const stmt = `
		SELECT c.column_name
		FROM information_schema.columns c
		WHERE c.table_schema = (
			SELECT t.table_schema
			FROM unnest(current_schemas(false)) WITH ORDINALITY AS s(name, pos)
			JOIN information_schema.tables t
				ON t.table_schema = s.name AND t.table_name = $1
			ORDER BY s.pos
			LIMIT 1
		)
		  AND c.table_name = $1
		ORDER BY c.ordinal_position`

	rows, err := q.Query(ctx, stmt, table)
	if err != nil {
		return nil, err
	}
	cols, err := database.CollectStrings(rows)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %s not found or has no columns", table)
	}
	return cols, nil
}
