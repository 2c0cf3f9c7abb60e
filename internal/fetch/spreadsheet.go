package fetch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/koustreak/dbfill/internal/errs"
)

// workbook is the read side shared by the Office Open XML and OpenDocument
// readers.
type workbook interface {
	SheetList() []string
	Rows(name string) ([][]string, error)
	Close() error
}

type xlsxWorkbook struct{ *excelize.File }

func (w xlsxWorkbook) SheetList() []string { return w.GetSheetList() }

func (w xlsxWorkbook) Rows(name string) ([][]string, error) { return w.GetRows(name) }

func spreadsheetExt(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// CheckSpreadsheet rejects files whose extension no reader handles.
func CheckSpreadsheet(path string) error {
	switch ext := spreadsheetExt(path); ext {
	case "xlsx", "xlsm", "xltx", "xltm", "ods":
		return nil
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "file extension not recognized for spreadsheet: %q", ext)
	}
}

// ExtractSheets returns the cells of the named sheets (all sheets when names
// is empty), keyed by sheet name. Rows are padded to the widest row of their
// sheet.
func ExtractSheets(src string, names []string) (map[string][][]string, error) {
	f, err := openWorkbook(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if len(names) == 0 {
		names = f.SheetList()
	}
	out := make(map[string][][]string, len(names))
	for _, name := range names {
		rows, err := f.Rows(name)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindNotFound, fmt.Sprintf("sheet %q of %s", name, src), err)
		}
		out[name] = padRows(rows)
	}
	return out, nil
}

// ConvertSpreadsheet writes the first sheet of src as CSV to dest. An empty
// dest means src with its extension replaced by ".csv".
func ConvertSpreadsheet(src, dest string, removeSrc bool) error {
	f, err := openWorkbook(src)
	if err != nil {
		return err
	}
	sheets := f.SheetList()
	f.Close()
	if len(sheets) == 0 {
		return errs.Newf(errs.ErrKindInvalidInput, "spreadsheet %s has no sheets", src)
	}

	data, err := ExtractSheets(src, sheets[:1])
	if err != nil {
		return err
	}
	if dest == "" {
		dest = strings.TrimSuffix(src, filepath.Ext(src)) + ".csv"
	}
	if err := writeCSV(dest, data[sheets[0]]); err != nil {
		return err
	}
	return removeIf(removeSrc, src)
}

// ConvertSpreadsheetSheets writes each selected sheet of src as
// destDir/<name>.csv. rename maps sheet names to output base names. An
// empty destDir means src without its extension.
func ConvertSpreadsheetSheets(src, destDir string, names []string, rename map[string]string, removeSrc bool) error {
	data, err := ExtractSheets(src, names)
	if err != nil {
		return err
	}
	if destDir == "" {
		destDir = strings.TrimSuffix(src, filepath.Ext(src))
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "create destination folder", err)
	}
	for name, rows := range data {
		out := name
		if renamed, ok := rename[name]; ok {
			out = renamed
		}
		if err := writeCSV(filepath.Join(destDir, out+".csv"), rows); err != nil {
			return err
		}
	}
	return removeIf(removeSrc, src)
}

func openWorkbook(src string) (workbook, error) {
	if err := CheckSpreadsheet(src); err != nil {
		return nil, err
	}
	if spreadsheetExt(src) == "ods" {
		return openODS(src)
	}
	f, err := excelize.OpenFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.ErrKindNotFound, fmt.Sprintf("spreadsheet %s", src), err)
		}
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("open spreadsheet %s", src), err)
	}
	return xlsxWorkbook{f}, nil
}

func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	for i, r := range rows {
		if len(r) < width {
			rows[i] = append(r, make([]string, width-len(r))...)
		}
	}
	return rows
}

func writeCSV(dest string, rows [][]string) error {
	return writeAtomic(dest, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

func removeIf(remove bool, path string) error {
	if !remove {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("remove %s", path), err)
	}
	return nil
}
