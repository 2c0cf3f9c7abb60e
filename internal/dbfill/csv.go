package dbfill

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/errs"
	"github.com/koustreak/dbfill/internal/fetch"
)

// CSVFiller loads a delimited text file into an existing table with COPY.
// The file is downloaded from URL during Prepare unless already present.
type CSVFiller struct {
	Base

	// URL is optional; without it File must already exist.
	URL string

	// File is relative to the data folder. Defaults to the URL's last path
	// segment.
	File string

	// FileCode, when set, records the file in file_hash.
	FileCode string

	Table string

	// Columns defaults to the header row.
	Columns []string

	// Header tells that the first row holds column names.
	Header bool

	// Force downloads again even when File exists.
	Force bool
}

func NewCSVFiller(opts BaseOptions, table, url string) *CSVFiller {
	f := &CSVFiller{Base: NewBase(opts), Table: table, URL: url, Header: true}
	f.AddRelevant("table", func() string { return f.Table })
	f.AddRelevant("file", f.file)
	return f
}

func (f *CSVFiller) file() string {
	if f.File == "" && f.URL != "" {
		return fetch.FileNameFromURL(f.URL)
	}
	return f.File
}

func (f *CSVFiller) Prepare(ctx context.Context) error {
	if err := f.Base.Prepare(ctx); err != nil {
		return err
	}
	if f.file() == "" {
		return errs.Newf(errs.ErrKindInvalidInput, "filler %s: neither file nor url given", f.Name())
	}

	_, statErr := os.Stat(f.Path(f.file()))
	switch {
	case f.URL != "" && (f.Force || os.IsNotExist(statErr)):
		if err := f.Download(ctx, f.URL, f.file(), false); err != nil {
			return err
		}
	case statErr != nil:
		return errs.Wrap(errs.ErrKindNotFound, fmt.Sprintf("filler %s: input file", f.Name()), statErr)
	}

	if f.FileCode == "" {
		return nil
	}
	return f.RecordFile(ctx, f.file(), f.FileCode)
}

// CheckRequirements requires the target table to exist.
func (f *CSVFiller) CheckRequirements(ctx context.Context) (bool, error) {
	if err := database.CheckSQLNameSafe(f.Table); err != nil {
		return false, err
	}
	return f.DB().TableExists(ctx, f.Table)
}

func (f *CSVFiller) Apply(ctx context.Context) error {
	columns, rows, err := f.read()
	if err != nil {
		return err
	}
	if err := f.checkColumns(ctx, columns); err != nil {
		return err
	}

	var n int64
	err = f.DB().InTx(ctx, func(tx database.Tx) error {
		var err error
		n, err = tx.CopyFrom(ctx, f.Table, columns, rows)
		return err
	})
	if err != nil {
		return err
	}
	f.Logger().Infof("loaded %d rows into %s", n, f.Table)
	return nil
}

// checkColumns refuses columns the target table does not have, before any
// row is sent.
func (f *CSVFiller) checkColumns(ctx context.Context, columns []string) error {
	known, err := f.DB().TableColumns(ctx, f.Table)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(known))
	for _, c := range known {
		have[c] = struct{}{}
	}
	for _, c := range columns {
		if err := database.CheckSQLNameSafe(c); err != nil {
			return err
		}
		if _, ok := have[c]; !ok {
			return errs.Newf(errs.ErrKindInvalidInput, "table %s has no column %s", f.Table, c)
		}
	}
	return nil
}

// read decodes the file with the filler's encoding and delimiter. Empty
// fields become NULL.
func (f *CSVFiller) read() ([]string, [][]any, error) {
	file, err := os.Open(f.Path(f.file()))
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindNotFound, fmt.Sprintf("open %s", f.file()), err)
	}
	defer file.Close()

	src, err := f.decoder(file)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(src)
	r.Comma = f.Delimiter()
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("parse %s", f.file()), err)
	}

	columns := f.Columns
	if f.Header && len(records) > 0 {
		if columns == nil {
			columns = records[0]
		}
		records = records[1:]
	}
	if len(columns) == 0 {
		return nil, nil, errs.Newf(errs.ErrKindInvalidInput, "filler %s: no columns for table %s", f.Name(), f.Table)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		if len(rec) != len(columns) {
			return nil, nil, errs.Newf(errs.ErrKindInvalidInput, "%s line %d: %d fields, want %d", f.file(), i+1, len(rec), len(columns))
		}
		row := make([]any, len(rec))
		for j, v := range rec {
			if v != "" {
				row[j] = v
			}
		}
		rows[i] = row
	}
	return columns, rows, nil
}

func (f *CSVFiller) decoder(r io.Reader) (io.Reader, error) {
	label := strings.ToLower(f.Encoding())
	if label == "utf-8" || label == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("unknown encoding %q", f.Encoding()), err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
