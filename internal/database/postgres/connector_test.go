package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/database/dbtest"
	"github.com/koustreak/dbfill/internal/errs"
)

// fakeServer answers dials by database name. Databases listed in missing
// fail with ErrKindDatabaseMissing until they are created through the
// fallback session.
type fakeServer struct {
	missing  map[string]bool
	authFail int // number of dials to reject with an authentication error

	dials    []database.ConnInfo
	sessions map[string][]*dbtest.Conn
}

func newFakeServer(missing ...string) *fakeServer {
	s := &fakeServer{missing: map[string]bool{}, sessions: map[string][]*dbtest.Conn{}}
	for _, m := range missing {
		s.missing[m] = true
	}
	return s
}

func (s *fakeServer) dial(_ context.Context, info database.ConnInfo) (database.Conn, error) {
	s.dials = append(s.dials, info)
	if s.authFail > 0 {
		s.authFail--
		return nil, errs.New(errs.ErrKindPermissionDenied, "password authentication failed")
	}
	if s.missing[info.Database] {
		return nil, errs.Newf(errs.ErrKindDatabaseMissing, "database %q does not exist", info.Database)
	}

	conn := dbtest.New().
		Returning("current_setting('search_path')", []any{`"$user", public`}).
		Returning("boot_val", []any{`"$user", public`})
	conn.On("CREATE DATABASE", func([]any) dbtest.Result {
		delete(s.missing, "target")
		return dbtest.Result{}
	})
	s.sessions[info.Database] = append(s.sessions[info.Database], conn)
	return conn, nil
}

func newTestConnector(s *fakeServer) *Connector {
	return &Connector{Dial: s.dial}
}

func TestResolveSearchPath_NotRequested(t *testing.T) {
	s := newFakeServer()
	path, err := newTestConnector(s).ResolveSearchPath(context.Background(), database.ConnInfo{Database: "target"}, database.SearchPathRequest{})

	require.NoError(t, err)
	assert.Nil(t, path)
	assert.Empty(t, s.dials, "no side session when nothing is requested")
}

func TestResolveSearchPath_ServerDefault(t *testing.T) {
	s := newFakeServer()
	info := database.ConnInfo{Database: "target"}

	path, err := newTestConnector(s).ResolveSearchPath(context.Background(), info, database.SearchPathRequest{
		Schema:     "test_schema",
		Additional: []string{"public", "postgis"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"test_schema", "$user", "public", "postgis"}, path)

	require.Len(t, s.dials, 1)
	assert.Empty(t, s.dials[0].SearchPath, "side session uses the server default")
	assert.True(t, s.sessions["target"][0].Closed, "side session is closed immediately")
}

func TestResolveSearchPath_MissingDatabaseReadsBootValue(t *testing.T) {
	s := newFakeServer("target")

	path, err := newTestConnector(s).ResolveSearchPath(context.Background(), database.ConnInfo{Database: "target"}, database.SearchPathRequest{Schema: "s"})

	require.NoError(t, err)
	assert.Equal(t, []string{"s", "$user", "public"}, path)
	require.Len(t, s.dials, 2)
	assert.Equal(t, DefaultFallbackDB, s.dials[1].Database)

	fallback := s.sessions[DefaultFallbackDB][0]
	assert.Contains(t, fallback.Executed()[0], "boot_val")
	assert.True(t, fallback.Closed)
}

func TestResolveSearchPath_FromOptions(t *testing.T) {
	s := newFakeServer()
	info := database.ConnInfo{Database: "target", Options: "-c search_path=app,public"}

	path, err := newTestConnector(s).ResolveSearchPath(context.Background(), info, database.SearchPathRequest{
		Schema:     "s",
		Additional: []string{"public"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"s", "app", "public"}, path)
	assert.Empty(t, s.dials, "options already carry the base path")
}

func TestResolveSearchPath_RejectsBeforeDialing(t *testing.T) {
	tests := []struct {
		name string
		info database.ConnInfo
		req  database.SearchPathRequest
	}{
		{"quote in schema", database.ConnInfo{}, database.SearchPathRequest{Schema: "a'b"}},
		{"double quote in schema", database.ConnInfo{}, database.SearchPathRequest{Schema: `a"b`}},
		{"semicolon in additional", database.ConnInfo{}, database.SearchPathRequest{Additional: []string{"x;drop"}}},
		{"comma in additional", database.ConnInfo{}, database.SearchPathRequest{Additional: []string{"a,b"}}},
		{"unsupported options", database.ConnInfo{Options: "-c work_mem=64MB"}, database.SearchPathRequest{Schema: "s"}},
		{"quote in options entry", database.ConnInfo{Options: "-c search_path=we'ird"}, database.SearchPathRequest{Schema: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeServer()
			_, err := newTestConnector(s).ResolveSearchPath(context.Background(), tt.info, tt.req)

			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
			assert.Empty(t, s.dials)
		})
	}
}

func TestConnect_BootstrapsMissingDatabase(t *testing.T) {
	s := newFakeServer("target")
	info := database.ConnInfo{Database: "target", SearchPath: []string{"s", "public"}}

	conn, err := newTestConnector(s).Connect(context.Background(), info)

	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Len(t, s.dials, 3)
	assert.Equal(t, "target", s.dials[0].Database)
	assert.Equal(t, DefaultFallbackDB, s.dials[1].Database)
	assert.Empty(t, s.dials[1].SearchPath)
	assert.Equal(t, []string{"s", "public"}, s.dials[2].SearchPath)

	admin := s.sessions[DefaultFallbackDB][0]
	require.Len(t, admin.Committed, 1)
	assert.Equal(t, `CREATE DATABASE "target"`, admin.Committed[0].SQL)
	assert.False(t, admin.Committed[0].InTx, "CREATE DATABASE runs outside a transaction")
	assert.True(t, admin.Closed)
}

func TestConnect_CustomFallback(t *testing.T) {
	s := newFakeServer("target")
	c := newTestConnector(s)
	c.FallbackDB = "template1"

	_, err := c.Connect(context.Background(), database.ConnInfo{Database: "target"})

	require.NoError(t, err)
	assert.Equal(t, "template1", s.dials[1].Database)
}

func TestConnect_UnsafeDatabaseNameNotCreated(t *testing.T) {
	s := newFakeServer(`evil"db`)

	_, err := newTestConnector(s).Connect(context.Background(), database.ConnInfo{Database: `evil"db`})

	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Len(t, s.dials, 1)
}

func TestConnect_OtherErrorsPropagate(t *testing.T) {
	boom := errs.New(errs.ErrKindConnectionFailed, "connection refused")
	c := &Connector{Dial: func(context.Context, database.ConnInfo) (database.Conn, error) { return nil, boom }}

	_, err := c.Connect(context.Background(), database.ConnInfo{Database: "target"})

	assert.Same(t, boom, err)
}

func TestConnect_RetriesAuthWithPassfile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(pgpassEnv, "")

	s := newFakeServer()
	s.authFail = 1

	conn, err := newTestConnector(s).Connect(context.Background(), database.ConnInfo{Database: "target"})

	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Len(t, s.dials, 2)
	assert.Equal(t, filepath.Join(home, ".pgpass"), os.Getenv(pgpassEnv))
}

func TestConnect_NoAuthRetryWhenPassfileSet(t *testing.T) {
	t.Setenv(pgpassEnv, "/etc/custom.pgpass")

	s := newFakeServer()
	s.authFail = 1

	_, err := newTestConnector(s).Connect(context.Background(), database.ConnInfo{Database: "target"})

	require.Error(t, err)
	assert.True(t, errs.IsPermissionDenied(err))
	assert.Len(t, s.dials, 1)
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(database.ConnInfo{
		Host:     "localhost",
		Database: "test__dbfill",
		User:     "postgres",
		Password: `it's\secret`,
	})

	assert.Equal(t, `dbname='test__dbfill' host='localhost' password='it\'s\\secret' port='5432' sslmode='disable' user='postgres'`, dsn)
}

func TestBuildConfig_SearchPathAndParams(t *testing.T) {
	cfg, err := buildConfig(database.ConnInfo{
		Host:       "localhost",
		Database:   "target",
		User:       "postgres",
		Params:     map[string]string{"application_name": "dbfill"},
		SearchPath: []string{"s", "$user", "public"},
	})

	require.NoError(t, err)
	assert.Equal(t, "target", cfg.Database)
	assert.Equal(t, uint16(5432), cfg.Port)
	assert.Equal(t, `"s","$user","public"`, cfg.RuntimeParams["search_path"])
	assert.Equal(t, "dbfill", cfg.RuntimeParams["application_name"])
	assert.NotContains(t, cfg.RuntimeParams, "options")
}

func TestBuildConfig_UnresolvedOptionsPassThrough(t *testing.T) {
	cfg, err := buildConfig(database.ConnInfo{Database: "target", Options: "-c search_path=app,public"})

	require.NoError(t, err)
	assert.Equal(t, "-c search_path=app,public", cfg.RuntimeParams["options"])
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{"missing database", &pgconn.PgError{Code: "3D000", Message: `database "x" does not exist`}, errs.ErrKindDatabaseMissing},
		{"bad password", &pgconn.PgError{Code: "28P01"}, errs.ErrKindPermissionDenied},
		{"no auth", &pgconn.PgError{Code: "28000"}, errs.ErrKindPermissionDenied},
		{"connection class", &pgconn.PgError{Code: "08006"}, errs.ErrKindConnectionFailed},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, errs.ErrKindNotFound},
		{"syntax", &pgconn.PgError{Code: "42601"}, errs.ErrKindQueryFailed},
		{"wrapped pg error", fmt.Errorf("connect: %w", &pgconn.PgError{Code: "3D000"}), errs.ErrKindDatabaseMissing},
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, mapError(nil, "op"))
}
