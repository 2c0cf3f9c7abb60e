package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/koustreak/dbfill/internal/database"
)

// Dialer opens one session. Dial is the production implementation; tests
// substitute fakes.
type Dialer func(ctx context.Context, info database.ConnInfo) (database.Conn, error)

// Conn implements database.Conn on a single *pgx.Conn.
type Conn struct {
	conn *pgx.Conn
}

// Dial opens one PostgreSQL session described by info. The resolved search
// path, if any, is sent as a startup parameter so it applies from the first
// statement on.
func Dial(ctx context.Context, info database.ConnInfo) (database.Conn, error) {
	cfg, err := buildConfig(info)
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("connect to database %q failed", info.Database))
	}
	return &Conn{conn: conn}, nil
}

// buildConfig turns info into a pgx config. The password, when empty, is
// looked up by pgconn in the credentials file ($PGPASSFILE or ~/.pgpass)
// during parsing, so a retry after setting PGPASSFILE must re-parse.
func buildConfig(info database.ConnInfo) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(buildDSN(info))
	if err != nil {
		return nil, mapError(err, "invalid connection parameters")
	}
	for k, v := range info.Params {
		cfg.RuntimeParams[k] = v
	}
	if info.HasOptions() {
		cfg.RuntimeParams["options"] = info.Options
	}
	if len(info.SearchPath) > 0 {
		cfg.RuntimeParams["search_path"] = database.FormatSearchPath(info.SearchPath)
	}
	return cfg, nil
}

// buildDSN constructs a keyword/value connection string. Empty fields are
// left out so libpq environment defaults (PGHOST, PGUSER, ...) still apply.
func buildDSN(info database.ConnInfo) string {
	pairs := map[string]string{
		"host":     info.Host,
		"user":     info.User,
		"password": info.Password,
		"dbname":   info.Database,
		"sslmode":  info.SSLModeOrDefault(),
		"port":     fmt.Sprint(info.PortOrDefault()),
	}
	keys := make([]string, 0, len(pairs))
	for k, v := range pairs {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quoteDSNValue(pairs[k])
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue single-quotes a keyword/value DSN value, escaping backslashes
// and quotes as libpq expects.
func quoteDSNValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// --- database.Conn implementation ---

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgRows{rows: rows}, nil
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return &pgRow{row: c.conn.QueryRow(ctx, sql, args...)}
}

func (c *Conn) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := c.conn.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, mapError(err, fmt.Sprintf("copy into %s failed", table))
	}
	return n, nil
}

func (c *Conn) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, mapError(err, "begin failed")
	}
	return &pgTx{tx: tx}, nil
}

func (c *Conn) Close(ctx context.Context) error {
	if err := c.conn.Close(ctx); err != nil {
		return mapError(err, "close failed")
	}
	return nil
}

// --- pgRows wraps pgx.Rows ---

type pgRows struct{ rows pgx.Rows }

func (r *pgRows) Next() bool { return r.rows.Next() }
func (r *pgRows) Close()     { r.rows.Close() }

func (r *pgRows) Scan(dest ...any) error {
	if err := r.rows.Scan(dest...); err != nil {
		return mapError(err, "scan failed")
	}
	return nil
}

func (r *pgRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return mapError(err, "row iteration failed")
	}
	return nil
}

// --- pgRow wraps pgx.Row ---

type pgRow struct{ row pgx.Row }

func (r *pgRow) Scan(dest ...any) error {
	if err := r.row.Scan(dest...); err != nil {
		return mapError(err, "scan failed")
	}
	return nil
}

// --- pgTx wraps pgx.Tx ---

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgRows{rows: rows}, nil
}

func (t *pgTx) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return &pgRow{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *pgTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, mapError(err, fmt.Sprintf("copy into %s failed", table))
	}
	return n, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapError(err, "commit failed")
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		return mapError(err, "rollback failed")
	}
	return nil
}
