// Package export writes the property register to CSV or XLSX files whose
// column headers the importer reads back.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wesm/leasevault/internal/store"
	"github.com/xuri/excelize/v2"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export file type %q (want .csv or .xlsx)", filepath.Ext(path))
}

// Header is the column order of an export.
var Header = []string{
	"Property ID",
	"Landlord ID",
	"Flat number",
	"Address",
	"Post code",
	"City",
	"Units in building",
	"First name",
	"Last name",
	"Email",
}

// sheetName is the XLSX worksheet holding the register.
const sheetName = "Records"

var columnWidths = []float64{14, 14, 12, 28, 12, 18, 16, 16, 16, 30}

func recordRow(r *store.Record) []string {
	units := ""
	if r.UnitsInBuilding.Valid {
		units = strconv.FormatInt(r.UnitsInBuilding.Int64, 10)
	}
	return []string{
		r.ID,
		r.LandlordID,
		r.FlatNum,
		r.Street,
		r.PostCode,
		r.City,
		units,
		r.FirstName.String,
		r.LastName.String,
		r.Email.String,
	}
}

// WriteCSV writes records to w with a header row.
func WriteCSV(w io.Writer, records []store.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range records {
		if err := cw.Write(recordRow(&records[i])); err != nil {
			return fmt.Errorf("write csv row %s: %w", records[i].ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes records to w as a workbook with a styled, frozen header
// row. Units in building are written as numbers.
func WriteXLSX(w io.Writer, records []store.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(Header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	for i := range records {
		row := make([]any, 0, len(Header))
		for col, v := range recordRow(&records[i]) {
			if col == 6 && records[i].UnitsInBuilding.Valid {
				row = append(row, records[i].UnitsInBuilding.Int64)
				continue
			}
			row = append(row, v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %s: %w", records[i].ID, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Write writes records to w in format.
func Write(w io.Writer, format Format, records []store.Record) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

// WriteFile writes records to path in the format its extension names. A
// partially written file is removed on error.
func WriteFile(path string, records []store.Record) (err error) {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	file, err := createNoFollow(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
		if err != nil {
			err = errors.Join(err, removeIfExists(path))
		}
	}()
	return Write(file, format, records)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
