package insights

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	baseSheet      = "Full base"
	maxSheetName   = 30
	exportTimeForm = "02/01/2006 15:04"
)

// WriteAttributesWorkbook writes an .xlsx with one value-count sheet per
// selected column followed by a sheet holding every row.
func WriteAttributesWorkbook(w io.Writer, report AttributeReport) error {
	f := excelize.NewFile()
	defer f.Close()

	used := map[string]bool{strings.ToLower(baseSheet): true}
	for _, cc := range report.ValueCounts {
		name := uniqueSheetName(sheetName(cc.Column), used)
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("add sheet %q: %w", name, err)
		}
		if err := f.SetSheetRow(name, "A1", &[]any{cc.Column, "Count"}); err != nil {
			return err
		}
		for i, c := range cc.Counts {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			if err := f.SetSheetRow(name, cell, &[]any{c.Key, c.Count}); err != nil {
				return err
			}
		}
		if err := f.SetColWidth(name, "A", "A", 50); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(baseSheet); err != nil {
		return fmt.Errorf("add sheet %q: %w", baseSheet, err)
	}
	header := []any{"Date", "Agent", "Link", "Filled"}
	for _, col := range report.Columns {
		header = append(header, col)
	}
	if err := f.SetSheetRow(baseSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range report.Rows {
		row := []any{r.CreatedAt.Format(exportTimeForm), r.Agent, r.Link, r.Filled}
		for _, col := range report.Columns {
			row = append(row, r.Values[col])
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(baseSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(baseSheet, "A", "A", 18); err != nil {
		return err
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	if idx, err := f.GetSheetIndex(baseSheet); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	return f.Write(w)
}

var sheetNameCleaner = strings.NewReplacer(":", "", "/", "-", "\\", "-", "?", "", "*", "", "[", "", "]", "", "(", "", ")", "")

// sheetName strips characters Excel rejects and truncates to the length
// limit.
func sheetName(col string) string {
	name := strings.TrimSpace(sheetNameCleaner.Replace(col))
	if r := []rune(name); len(r) > maxSheetName {
		name = strings.TrimSpace(string(r[:maxSheetName]))
	}
	if name == "" {
		name = "Column"
	}
	return name
}

func uniqueSheetName(name string, used map[string]bool) string {
	candidate := name
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		suffix := fmt.Sprintf(" %d", i)
		r := []rune(name)
		if len(r)+len(suffix) > maxSheetName {
			r = r[:maxSheetName-len(suffix)]
		}
		candidate = string(r) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
