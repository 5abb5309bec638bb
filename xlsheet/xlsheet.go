// Package xlsheet reads and writes game text workbooks (.xlsx). Each
// sheet has a header row mapping column names to fields; data rows
// start at row 2. The package only touches the target column when
// writing, leaving formatting and unrelated cells intact.
package xlsheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/gametext/sheetloc/config"
	"github.com/gametext/sheetloc/segment"
)

// Book wraps an open workbook with the configured column mapping.
type Book struct {
	file    *excelize.File
	path    string
	columns config.Columns
}

// Open opens the workbook at path with the given column mapping.
func Open(path string, columns config.Columns) (*Book, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	return &Book{file: f, path: path, columns: columns}, nil
}

// Close releases the underlying file handle without saving.
func (b *Book) Close() error {
	return b.file.Close()
}

// Path returns the workbook path.
func (b *Book) Path() string {
	return b.path
}

// Sheets returns the workbook's sheet names in workbook order.
func (b *Book) Sheets() ([]string, error) {
	return b.file.GetSheetList(), nil
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// columnIndexes resolves the header row of a sheet to 0-based column
// indexes. The key and source columns are mandatory; the rest resolve
// to -1 when their header is absent.
type columnIndexes struct {
	key, source, target, comment, dnt int
}

func (b *Book) resolveColumns(sheet string, header []string) (columnIndexes, error) {
	find := func(name string) int {
		if name == "" {
			return -1
		}
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}

	idx := columnIndexes{
		key:     find(b.columns.Key),
		source:  find(b.columns.Source),
		target:  find(b.columns.Target),
		comment: find(b.columns.Comment),
		dnt:     find(b.columns.DoNotTranslate),
	}
	if idx.key < 0 {
		return idx, fmt.Errorf("sheet %q: key column %q not found in header", sheet, b.columns.Key)
	}
	if idx.source < 0 {
		return idx, fmt.Errorf("sheet %q: source column %q not found in header", sheet, b.columns.Source)
	}
	if idx.target < 0 {
		return idx, fmt.Errorf("sheet %q: target column %q not found in header", sheet, b.columns.Target)
	}
	return idx, nil
}

// LoadSegments reads all data rows of a sheet. Rows with an empty key
// cell are skipped. Row numbers are 1-based spreadsheet rows, so the
// first data row is 2.
func (b *Book) LoadSegments(sheet string) ([]*segment.Segment, error) {
	rows, err := b.file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q has no header row", sheet)
	}

	idx, err := b.resolveColumns(sheet, rows[0])
	if err != nil {
		return nil, err
	}

	cell := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var segs []*segment.Segment
	for r, row := range rows[1:] {
		key := strings.TrimSpace(cell(row, idx.key))
		if key == "" {
			continue
		}
		segs = append(segs, &segment.Segment{
			Sheet:          sheet,
			Row:            r + 2,
			Key:            key,
			SourceText:     cell(row, idx.source),
			TargetText:     cell(row, idx.target),
			Comment:        cell(row, idx.comment),
			DoNotTranslate: truthy(cell(row, idx.dnt)),
			Status:         segment.StatusPending,
		})
	}
	return segs, nil
}

// truthy interprets a do-not-translate flag cell.
func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "x":
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// WriteTargets fills the target column for the given rows. Only the
// target cells named in the map are touched.
func (b *Book) WriteTargets(sheet string, targets map[int]string) error {
	rows, err := b.file.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q has no header row", sheet)
	}
	idx, err := b.resolveColumns(sheet, rows[0])
	if err != nil {
		return err
	}

	for row, text := range targets {
		cellName, err := excelize.CoordinatesToCellName(idx.target+1, row)
		if err != nil {
			return fmt.Errorf("sheet %q row %d: %w", sheet, row, err)
		}
		if err := b.file.SetCellStr(sheet, cellName, text); err != nil {
			return fmt.Errorf("writing %s!%s: %w", sheet, cellName, err)
		}
	}
	return nil
}

// Save writes the workbook back to its original path.
func (b *Book) Save() error {
	if err := b.file.Save(); err != nil {
		return fmt.Errorf("saving workbook %s: %w", b.path, err)
	}
	return nil
}
