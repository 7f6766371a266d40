package importer

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

type field int

const (
	fieldPropertyID field = iota
	fieldLandlordID
	fieldFlatNum
	fieldStreet
	fieldPostCode
	fieldCity
	fieldUnits
	fieldFirstName
	fieldLastName
	fieldEmail
)

// headerAliases maps normalized header text to a field. Headers are matched
// case-insensitively with underscores treated as spaces, so both
// "Flat number" and "flat_num" are recognized.
var headerAliases = map[string]field{
	"property id":       fieldPropertyID,
	"landlord id":       fieldLandlordID,
	"flat number":       fieldFlatNum,
	"flat num":          fieldFlatNum,
	"flat":              fieldFlatNum,
	"address":           fieldStreet,
	"street":            fieldStreet,
	"post code":         fieldPostCode,
	"postcode":          fieldPostCode,
	"city":              fieldCity,
	"units in building": fieldUnits,
	"units":             fieldUnits,
	"first name":        fieldFirstName,
	"last name":         fieldLastName,
	"email":             fieldEmail,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.ReplaceAll(h, "_", " "))
	return strings.Join(strings.Fields(strings.TrimPrefix(h, "\ufeff")), " ")
}

// columnMap records the column index of each recognized field.
type columnMap map[field]int

// mapHeader resolves a header row. Unrecognized columns are ignored; the
// property and landlord id columns are required.
func mapHeader(header []string) (columnMap, error) {
	cols := columnMap{}
	for i, h := range header {
		f, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, dup := cols[f]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		cols[f] = i
	}
	for f, name := range map[field]string{fieldPropertyID: "Property ID", fieldLandlordID: "Landlord ID"} {
		if _, ok := cols[f]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

func (m columnMap) get(record []string, f field) string {
	i, ok := m[f]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// row builds a Row from one record. Records with every column blank return
// ok false so trailing empty spreadsheet rows are skipped.
func (m columnMap) row(line int, record []string) (row Row, ok bool, err error) {
	blank := true
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			blank = false
			break
		}
	}
	if blank {
		return Row{}, false, nil
	}

	row = Row{
		Line:       line,
		PropertyID: m.get(record, fieldPropertyID),
		LandlordID: m.get(record, fieldLandlordID),
		FlatNum:    m.get(record, fieldFlatNum),
		Street:     m.get(record, fieldStreet),
		PostCode:   m.get(record, fieldPostCode),
		City:       m.get(record, fieldCity),
		FirstName:  m.get(record, fieldFirstName),
		LastName:   m.get(record, fieldLastName),
		Email:      m.get(record, fieldEmail),
	}
	if units := m.get(record, fieldUnits); units != "" {
		n, err := strconv.ParseInt(units, 10, 64)
		if err != nil {
			return Row{}, false, RowError{Line: line, Err: fmt.Errorf("invalid units in building %q", units)}
		}
		row.UnitsInBuilding = sql.NullInt64{Int64: n, Valid: true}
	}
	return row, true, nil
}
