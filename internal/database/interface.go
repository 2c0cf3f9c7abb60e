package database

import "context"

// Querier is the statement surface shared by a connection and a transaction.
type Querier interface {
	// Exec runs a statement and returns the number of rows affected.
	// With no args the text may hold several statements separated by ';'.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row

	// CopyFrom bulk-loads rows into table using the COPY protocol.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Tx is an open transaction. Exactly one of Commit or Rollback must be called.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a single live session. Statements issued directly on a Conn run
// outside any transaction (autocommit); use Begin to group statements.
//
// A Conn is not safe for concurrent use.
type Conn interface {
	Querier

	// Begin starts a transaction on this session.
	Begin(ctx context.Context) (Tx, error)

	// Close terminates the session.
	Close(ctx context.Context) error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}

// InTx runs fn inside a transaction on conn and commits when fn succeeds.
// The transaction is rolled back when fn or the commit fails.
func InTx(ctx context.Context, conn Conn, fn func(tx Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return nil
}

// CollectStrings drains rows holding a single text column.
func CollectStrings(rows Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
