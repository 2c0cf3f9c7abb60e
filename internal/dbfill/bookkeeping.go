package dbfill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/errs"
)

// Run record statuses written to _fillers_info.
const (
	StatusStartFillDB = "start_fill_db"
	StatusEndFillDB   = "end_fill_db"
	StatusInitPrepare = "init_prepare"
	StatusEndPrepare  = "end_prepare"
	StatusInitApply   = "init_apply"
	StatusEndApply    = "end_apply"
)

// fillDBClass is the class of the run-level markers.
const fillDBClass = "fill_db"

const (
	createFileHashSQL = `
		CREATE TABLE IF NOT EXISTS file_hash (
			filecode   TEXT PRIMARY KEY,
			filename   TEXT,
			hashtype   TEXT DEFAULT 'SHA256',
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			filehash   TEXT NOT NULL
		)`

	upsertFileHashSQL = `
		INSERT INTO file_hash (filecode, filename, filehash)
		VALUES ($1, $2, $3)
		ON CONFLICT (filecode) DO UPDATE
		SET filename   = EXCLUDED.filename,
		    filehash   = EXCLUDED.filehash,
		    updated_at = CURRENT_TIMESTAMP`

	insertRunSQL  = `INSERT INTO _fillers_info (class, args, status) VALUES ($1, $2, $3)`
	insertExecSQL = `INSERT INTO _exec_info (content, content_hash) VALUES ($1, $2)`
)

// RecordFile stores the SHA-256 of folder/filename under filecode. An empty
// folder means the data folder. A second record for the same code replaces
// the first.
func (db *Database) RecordFile(ctx context.Context, filename, filecode, folder string) error {
	if folder == "" {
		folder = db.dataFolder
	}
	hash, err := hashFile(filepath.Join(folder, filename))
	if err != nil {
		return err
	}

	err = db.InTx(ctx, func(tx database.Tx) error {
		if _, err := tx.Exec(ctx, createFileHashSQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, upsertFileHashSQL, filecode, filename, hash)
		return err
	})
	if err != nil {
		return err
	}
	db.log.InfoWith("recorded file", map[string]any{"filecode": filecode, "filename": filename})
	return nil
}

// recordRun appends one row to _fillers_info in its own transaction. A nil
// args is stored as NULL.
func (db *Database) recordRun(ctx context.Context, class string, args *string, status string) error {
	return db.InTx(ctx, func(tx database.Tx) error {
		var a any
		if args != nil {
			a = *args
		}
		_, err := tx.Exec(ctx, insertRunSQL, class, a, status)
		return err
	})
}

func (db *Database) registerExecContent(ctx context.Context, tx database.Tx) error {
	if db.execFile == "" {
		return errs.New(errs.ErrKindInvalidInput, "register exec is enabled but no exec file is configured")
	}
	content, err := os.ReadFile(db.execFile)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("read exec file %s", db.execFile), err)
	}
	if strings.Contains(strings.ToLower(string(content)), "password") {
		return errs.New(errs.ErrKindInvalidInput, "exec file must not contain a password when its content is registered")
	}

	sum := sha256.Sum256(content)
	if _, err := tx.Exec(ctx, insertExecSQL, string(content), hex.EncodeToString(sum[:])); err != nil {
		return err
	}
	db.log.Infof("registered exec file %s", db.execFile)
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.Wrap(errs.ErrKindNotFound, fmt.Sprintf("file %s", path), err)
		}
		return "", errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("hash %s", path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
