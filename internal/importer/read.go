package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadCSV yields the rows of a CSV file whose first record is the header.
func ReadCSV(r io.Reader) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		r, err := toUTF8(r)
		if err != nil {
			yield(Row{}, err)
			return
		}
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(Row{}, fmt.Errorf("read header: %w", err))
			return
		}
		cols, err := mapHeader(header)
		if err != nil {
			yield(Row{}, err)
			return
		}

		for {
			record, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Row{}, err)
				return
			}
			line, _ := cr.FieldPos(0)
			if !emit(yield, cols, line, record) {
				return
			}
		}
	}
}

// ReadXLSX yields the rows of a worksheet whose first row is the header. An
// empty sheet name selects the first sheet.
func ReadXLSX(r io.Reader, sheet string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		f, err := excelize.OpenReader(r)
		if err != nil {
			yield(Row{}, fmt.Errorf("open workbook: %w", err))
			return
		}
		defer f.Close()

		if sheet == "" {
			sheet = f.GetSheetName(0)
		}
		if sheet == "" {
			yield(Row{}, fmt.Errorf("workbook has no sheets"))
			return
		}

		rows, err := f.Rows(sheet)
		if err != nil {
			yield(Row{}, fmt.Errorf("read sheet %q: %w", sheet, err))
			return
		}
		defer rows.Close()

		var cols columnMap
		for line := 1; rows.Next(); line++ {
			record, err := rows.Columns()
			if err != nil {
				yield(Row{}, fmt.Errorf("sheet %q row %d: %w", sheet, line, err))
				return
			}
			if cols == nil {
				if cols, err = mapHeader(record); err != nil {
					yield(Row{}, err)
					return
				}
				continue
			}
			if !emit(yield, cols, line, record) {
				return
			}
		}
		if err := rows.Error(); err != nil {
			yield(Row{}, fmt.Errorf("read sheet %q: %w", sheet, err))
		}
	}
}

// ReadFile yields the rows of a .csv or .xlsx file.
func ReadFile(path string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		var read func(io.Reader) iter.Seq2[Row, error]
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			read = ReadCSV
		case ".xlsx", ".xlsm":
			read = func(r io.Reader) iter.Seq2[Row, error] { return ReadXLSX(r, "") }
		default:
			yield(Row{}, fmt.Errorf("unsupported import file type %q (want .csv or .xlsx)", filepath.Ext(path)))
			return
		}

		f, err := os.Open(path)
		if err != nil {
			yield(Row{}, fmt.Errorf("open import file: %w", err))
			return
		}
		defer f.Close()

		for row, err := range read(f) {
			if !yield(row, err) {
				return
			}
		}
	}
}

// emit converts one record and yields it, skipping blank records. It
// reports whether iteration should continue.
func emit(yield func(Row, error) bool, cols columnMap, line int, record []string) bool {
	row, ok, err := cols.row(line, record)
	if err != nil {
		return yield(Row{}, err)
	}
	if !ok {
		return true
	}
	return yield(row, nil)
}
