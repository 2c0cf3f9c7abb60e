package fetch

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/koustreak/dbfill/internal/errs"
)

// odsWorkbook holds the tables of an OpenDocument spreadsheet, read once.
type odsWorkbook struct {
	names []string
	rows  map[string][][]string
}

func openODS(src string) (*odsWorkbook, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.ErrKindNotFound, fmt.Sprintf("spreadsheet %s", src), err)
		}
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("open spreadsheet %s", src), err)
	}
	defer zr.Close()

	var content *zip.File
	for _, f := range zr.File {
		if f.Name == "content.xml" {
			content = f
			break
		}
	}
	if content == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "spreadsheet %s has no content.xml", src)
	}

	rc, err := content.Open()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("open content of %s", src), err)
	}
	defer rc.Close()

	wb, err := parseODSContent(rc)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("parse spreadsheet %s", src), err)
	}
	return wb, nil
}

func (w *odsWorkbook) SheetList() []string { return w.names }

func (w *odsWorkbook) Rows(name string) ([][]string, error) {
	rows, ok := w.rows[name]
	if !ok {
		return nil, fmt.Errorf("sheet %s does not exist", name)
	}
	return rows, nil
}

func (w *odsWorkbook) Close() error { return nil }

// parseODSContent walks content.xml. Repeated rows and cells are expanded,
// except trailing empty ones, which spreadsheet applications emit to pad
// the grid to its maximum size.
func parseODSContent(r io.Reader) (*odsWorkbook, error) {
	wb := &odsWorkbook{rows: map[string][][]string{}}
	dec := xml.NewDecoder(r)

	var (
		sheet        string
		inSheet      bool
		row          []string
		rowRepeat    int
		cellRepeat   int
		pendingCells int
		pendingRows  int
		inCell, inP  bool
		paragraphs   int
		text         strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				sheet, inSheet, pendingRows = odsAttr(t, "name"), true, 0
				wb.names = append(wb.names, sheet)
				wb.rows[sheet] = nil
			case "table-row":
				row, pendingCells = nil, 0
				rowRepeat = odsRepeat(t, "number-rows-repeated")
			case "table-cell", "covered-table-cell":
				inCell, paragraphs = true, 0
				text.Reset()
				cellRepeat = odsRepeat(t, "number-columns-repeated")
			case "annotation":
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			case "p":
				if inCell {
					if paragraphs > 0 {
						text.WriteByte('\n')
					}
					paragraphs++
					inP = true
				}
			case "s":
				if inP {
					text.WriteString(strings.Repeat(" ", odsRepeat(t, "c")))
				}
			case "tab":
				if inP {
					text.WriteByte('\t')
				}
			case "line-break":
				if inP {
					text.WriteByte('\n')
				}
			}

		case xml.CharData:
			if inP {
				text.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inP = false
			case "table-cell", "covered-table-cell":
				inCell = false
				v := text.String()
				if v == "" {
					pendingCells += cellRepeat
					continue
				}
				for ; pendingCells > 0; pendingCells-- {
					row = append(row, "")
				}
				for range cellRepeat {
					row = append(row, v)
				}
			case "table-row":
				if !inSheet {
					continue
				}
				if len(row) == 0 {
					pendingRows += rowRepeat
					continue
				}
				for ; pendingRows > 0; pendingRows-- {
					wb.rows[sheet] = append(wb.rows[sheet], nil)
				}
				for range rowRepeat {
					wb.rows[sheet] = append(wb.rows[sheet], slices.Clone(row))
				}
			case "table":
				inSheet = false
			}
		}
	}
	return wb, nil
}

func odsAttr(e xml.StartElement, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// odsRepeat reads a repetition count attribute, 1 when absent or invalid.
func odsRepeat(e xml.StartElement, local string) int {
	n, err := strconv.Atoi(odsAttr(e, local))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
