package postgres

import (
	"context"
	"fmt"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/errs"
)

const (
	currentSearchPathSQL = `SELECT current_setting('search_path')`
	bootSearchPathSQL    = `SELECT boot_val FROM pg_settings WHERE name = 'search_path'`
)

// ResolveSearchPath computes the search path of the primary session:
//
//	[req.Schema] + [entries of info.Options, or the server default] + req.Additional
//
// It returns nil when nothing was requested. Caller-supplied names are
// validated before any session is opened. The server default is read over a
// short-lived side session; when the target database does not exist yet the
// boot-time default is read from the fallback database instead.
func (c *Connector) ResolveSearchPath(ctx context.Context, info database.ConnInfo, req database.SearchPathRequest) ([]string, error) {
	if !req.Requested() {
		return nil, nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var base []string
	if info.HasOptions() {
		opts, err := database.ParseSearchPathOption(info.Options)
		if err != nil {
			return nil, err
		}
		c.log().InfoWith("merging search path from connection options", map[string]any{
			"options":    info.Options,
			"db_schema":  req.Schema,
			"additional": req.Additional,
		})
		base = opts
	}
	if len(base) == 0 {
		def, err := c.defaultSearchPath(ctx, info.WithoutSearchPath())
		if err != nil {
			return nil, err
		}
		base = def
	}

	path, err := database.MergeSearchPath(req.Schema, base, req.Additional)
	if err != nil {
		return nil, err
	}
	c.log().With().Strs("search_path", path).Logger().Debug("resolved search path")
	return path, nil
}

// defaultSearchPath reads the session default of the target database, or the
// server boot value through the fallback database when the target is absent.
func (c *Connector) defaultSearchPath(ctx context.Context, info database.ConnInfo) ([]string, error) {
	conn, err := c.dial(ctx, info)
	if err == nil {
		return readSetting(ctx, conn, currentSearchPathSQL)
	}
	if !errs.IsDatabaseMissing(err) {
		return nil, err
	}

	conn, err = c.dial(ctx, info.WithDatabase(c.fallbackDB()))
	if err != nil {
		return nil, fmt.Errorf("connect to fallback database %q: %w", c.fallbackDB(), err)
	}
	return readSetting(ctx, conn, bootSearchPathSQL)
}

// readSetting runs a single-value query on conn, then closes conn.
func readSetting(ctx context.Context, conn database.Conn, query string) ([]string, error) {
	defer conn.Close(ctx)

	var setting string
	if err := conn.QueryRow(ctx, query).Scan(&setting); err != nil {
		return nil, err
	}
	return database.SplitSearchPath(setting), nil
}
