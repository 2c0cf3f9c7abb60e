package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/errs"
	"github.com/koustreak/dbfill/internal/logger"
)

// DefaultFallbackDB is the maintenance database used to bootstrap a missing
// target database and to read the server's boot-time search path.
const DefaultFallbackDB = "postgres"

const pgpassEnv = "PGPASSFILE"

// Connector opens sessions for one Database: the side sessions of the search
// path resolver and the primary session.
type Connector struct {
	// Dial opens one session. Defaults to Dial.
	Dial Dialer

	// FallbackDB defaults to DefaultFallbackDB.
	FallbackDB string

	Log *logger.Logger
}

// NewConnector returns a Connector using the real pgx dialer.
func NewConnector(fallbackDB string, log *logger.Logger) *Connector {
	return &Connector{Dial: Dial, FallbackDB: fallbackDB, Log: log}
}

func (c *Connector) fallbackDB() string {
	if c.FallbackDB == "" {
		return DefaultFallbackDB
	}
	return c.FallbackDB
}

func (c *Connector) log() *logger.Logger {
	if c.Log == nil {
		return logger.Nop()
	}
	return c.Log
}

// Connect opens the primary session. A target database that does not exist
// is created through the fallback database and the connection retried.
func (c *Connector) Connect(ctx context.Context, info database.ConnInfo) (database.Conn, error) {
	if info.Password != "" {
		c.log().Warn("password provided directly in connection parameters; consider a credentials file such as ~/.pgpass")
	}

	conn, err := c.dial(ctx, info)
	if err == nil {
		return conn, nil
	}
	if !errs.IsDatabaseMissing(err) {
		return nil, err
	}

	c.log().Warnf("database %s does not exist: trying to create it via database %s", info.Database, c.fallbackDB())
	if err := c.createDatabase(ctx, info); err != nil {
		return nil, err
	}
	return c.dial(ctx, info)
}

// createDatabase issues CREATE DATABASE from a session on the fallback
// database. The statement runs outside any transaction, which is required
// for CREATE DATABASE.
func (c *Connector) createDatabase(ctx context.Context, info database.ConnInfo) error {
	if err := database.CheckSQLNameSafe(info.Database); err != nil {
		return err
	}

	admin, err := c.dial(ctx, info.WithDatabase(c.fallbackDB()).WithoutSearchPath())
	if err != nil {
		return fmt.Errorf("connect to fallback database %q: %w", c.fallbackDB(), err)
	}
	defer admin.Close(ctx)

	stmt := "CREATE DATABASE " + pgx.Identifier{info.Database}.Sanitize()
	if _, err := admin.Exec(ctx, stmt); err != nil {
		return err
	}
	c.log().Infof("created database %s", info.Database)
	return nil
}

// dial wraps Dial with the credentials-file retry: an authentication failure
// while PGPASSFILE is unset points it at ~/.pgpass and tries once more.
func (c *Connector) dial(ctx context.Context, info database.ConnInfo) (database.Conn, error) {
	dial := c.Dial
	if dial == nil {
		dial = Dial
	}

	conn, err := dial(ctx, info)
	if err == nil || !errs.IsPermissionDenied(err) || os.Getenv(pgpassEnv) != "" {
		return conn, err
	}

	home, herr := os.UserHomeDir()
	if herr != nil {
		return nil, err
	}
	if serr := os.Setenv(pgpassEnv, filepath.Join(home, ".pgpass")); serr != nil {
		return nil, err
	}
	c.log().Info("password authentication failed, retrying with PGPASSFILE set to ~/.pgpass")
	return dial(ctx, info)
}
