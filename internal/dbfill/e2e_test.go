package dbfill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/dbfill/internal/database"
)

// liveOptions points at a real server configured through DBFILL_TEST_PG*.
// Tests using it are skipped when DBFILL_TEST_PGHOST is unset.
func liveOptions(t *testing.T) Options {
	t.Helper()
	host := os.Getenv("DBFILL_TEST_PGHOST")
	if host == "" {
		t.Skip("DBFILL_TEST_PGHOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("DBFILL_TEST_PGPORT"))

	opts := DefaultOptions()
	opts.AdditionalSearchPath = nil
	opts.Schema = "dbfill_e2e"
	opts.DataFolder = t.TempDir()
	opts.Conn = database.ConnInfo{
		Host:     host,
		Port:     port,
		Database: envOr("DBFILL_TEST_PGDATABASE", "dbfill_e2e"),
		User:     os.Getenv("DBFILL_TEST_PGUSER"),
		Password: os.Getenv("DBFILL_TEST_PGPASSWORD"),
	}
	return opts
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestLive_FillTrail(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, liveOptions(t))
	require.NoError(t, err)
	defer db.Close(ctx)

	require.NoError(t, db.CleanDB(ctx))
	require.NoError(t, db.InitDB(ctx))

	f := newStub("live")
	require.NoError(t, db.AddFiller(ctx, f))
	require.NoError(t, db.FillDB(ctx))

	rows, err := db.Query(ctx, `SELECT status FROM _fillers_info WHERE class = 'stubFiller' ORDER BY id`)
	require.NoError(t, err)
	got, err := database.CollectStrings(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusInitPrepare, StatusEndPrepare, StatusInitApply, StatusEndApply}, got)

	empty, err := db.CheckEmpty(ctx, "_fillers_info")
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestLive_SampleFill(t *testing.T) {
	ctx := context.Background()
	srv := newArtifactServer(t)
	opts := liveOptions(t)
	opts.HTTPClient = srv.Client()
	db, err := Open(ctx, opts)
	require.NoError(t, err)
	defer db.Close(ctx)

	require.NoError(t, db.CleanDB(ctx))
	require.NoError(t, db.InitDB(ctx))
	require.NoError(t, db.InitDB(ctx), "init scripts are idempotent")

	f := NewSampleFiller(BaseOptions{})
	f.URL = srv.URL + "/images/logo.png"
	require.NoError(t, db.AddFiller(ctx, f))
	require.NoError(t, db.FillDB(ctx))
	require.NoError(t, db.FillDB(ctx))

	var count int64
	var hash string
	err = db.QueryRow(ctx, `SELECT count(*), max(filehash) FROM file_hash WHERE filecode = $1`, SampleFileCode).Scan(&count, &hash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	sum := sha256.Sum256(logo)
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)

	rows, err := db.Query(ctx, `SELECT status FROM _fillers_info WHERE class = 'SampleFiller' ORDER BY id`)
	require.NoError(t, err)
	got, err := database.CollectStrings(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusInitPrepare, StatusEndPrepare, StatusInitApply, StatusEndApply}, got)
}

func TestLive_RecordFileLatestWins(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, liveOptions(t))
	require.NoError(t, err)
	defer db.Close(ctx)
	require.NoError(t, db.CleanDB(ctx))

	path := filepath.Join(db.DataFolder(), "data.csv")
	var hashes []string
	for _, content := range []string{"a\n1\n", "a\n2\n"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, db.RecordFile(ctx, "data.csv", "data", ""))

		var count int64
		var hash string
		err := db.QueryRow(ctx, `SELECT count(*), max(filehash) FROM file_hash WHERE filecode = 'data'`).Scan(&count, &hash)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		hashes = append(hashes, hash)
	}

	sum := sha256.Sum256([]byte("a\n2\n"))
	assert.Equal(t, hex.EncodeToString(sum[:]), hashes[1])
	assert.NotEqual(t, hashes[0], hashes[1])
}
