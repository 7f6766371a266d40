package importer

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// toUTF8 reads all of r and returns it as UTF-8. Spreadsheet tools save CSV
// as UTF-8 (with or without a BOM), UTF-16 with a BOM, or the Windows ANSI
// code page; anything that is not valid UTF-8 is read as Windows-1252.
func toUTF8(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return bytes.NewReader(data[len(utf8BOM):]), nil
	case bytes.HasPrefix(data, []byte{0xff, 0xfe}), bytes.HasPrefix(data, []byte{0xfe, 0xff}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode utf-16 csv: %w", err)
		}
		return bytes.NewReader(out), nil
	case utf8.Valid(data):
		return bytes.NewReader(data), nil
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode windows-1252 csv: %w", err)
	}
	return bytes.NewReader(out), nil
}
