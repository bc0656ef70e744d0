/*
Package report reads COUNTER usage report workbooks.

PURPOSE:
  Detects which report format a workbook holds and exposes its header
  metadata and data rows through usage.Source. Two formats are supported:

    JR1  COUNTER R4 Journal Report 1    A1 starts with "Journal Report 1"
    TR   COUNTER R5 Title Master Report A1 is "Report_Name"; variants
                                        TR_J1, TR_J3, TR_B1, TR_B3

  Each reader knows its fixed cell coordinates. Rows come out as
  usage.RawRow and are cleaned by usage.Canonicalize.

USAGE:
  rep, err := report.Open("reports/tr-b3-ebook-central-2020-0112.xlsx")
  if errors.Is(err, usage.ErrUnrecognizedFormat) { ... }
  for n := range rep.DataRows() {
      row, err := rep.Row(n)
      ...
  }

SEE ALSO:
  - usage/canonical.go: Cleaning rules
  - naming.go: Canonical file names
*/
package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cubl/counter-loader/usage"
)

// Format tags the reader variant.
type Format string

const (
	FormatJR1 Format = "JR1"
	FormatTR  Format = "TR"
)

// Report is an opened usage report.
type Report interface {
	usage.Source
	Format() Format
	// Raw returns data row n before cleaning.
	Raw(n int) usage.RawRow
}

// Open reads the workbook at path and detects its format.
func Open(path string) (Report, error) {
	grid, err := OpenGrid(path)
	if err != nil {
		return nil, err
	}
	return FromSheet(filepath.Base(path), grid)
}

// FromSheet detects the format from cell A1 and builds the matching reader.
func FromSheet(filename string, s Sheet) (Report, error) {
	a1 := strings.TrimSpace(s.Cell(1, 1))
	switch {
	case strings.HasPrefix(a1, "Journal Report 1"):
		return newJR1(filename, s)
	case a1 == "Report_Name":
		return newTitleMaster(filename, s)
	}
	return nil, fmt.Errorf("%s: %w: A1 is %q", filename, usage.ErrUnrecognizedFormat, a1)
}

// dataRows yields rows from first while column A is non-blank.
func dataRows(s Sheet, first int, skip func(row int) bool) func(yield func(int) bool) {
	return func(yield func(int) bool) {
		for r := first; strings.TrimSpace(s.Cell(r, 1)) != ""; r++ {
			if skip != nil && skip(r) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

func monthCells(s Sheet, row, firstCol, n int) []string {
	cells := make([]string, n)
	for i := range cells {
		cells[i] = s.Cell(row, firstCol+i)
	}
	return cells
}
