package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// maxSourceBytes bounds what a single upload or file may hold.
const maxSourceBytes = 64 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Format identifies how a source is encoded.
type Format int

const (
	FormatCSV Format = iota
	FormatXLSX
)

// DetectFormat picks the reader from the file name. Anything that is not an
// Excel workbook is treated as CSV.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// ReadRows loads every row of a CSV file or of the first sheet of a
// workbook. Cells are returned as text, trimmed of surrounding space.
func ReadRows(name string, r io.Reader) ([][]string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(raw) > maxSourceBytes {
		return nil, fmt.Errorf("read %s: larger than %d bytes", name, maxSourceBytes)
	}

	var rows [][]string
	switch DetectFormat(name) {
	case FormatXLSX:
		rows, err = readWorkbook(raw)
	default:
		rows, err = readCSV(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	for _, row := range rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
	}
	return rows, nil
}

// DecodeText returns raw as UTF-8. Files exported from older spreadsheets
// arrive as ISO-8859-1; anything that is not valid UTF-8 is assumed to be
// that.
func DecodeText(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}
	return charmap.ISO8859_1.NewDecoder().Bytes(raw)
}

func readCSV(raw []byte) ([][]string, error) {
	text, err := DecodeText(raw)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(bytes.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false
	return cr.ReadAll()
}

func readWorkbook(raw []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

// cell returns row[i] or "" when the row is short.
func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func blankRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
