package sheets

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/phenrril/pharmastore/internal/domain"
)

// ParseCSV turns exported sheet text into one record per non-blank data row.
// The first line is the header. It never fails: malformed lines fall back to
// a plain comma split and short rows are padded with empty values.
func ParseCSV(text string) []domain.RawRecord {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var headers []string
	records := []domain.RawRecord{}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitLine(line)
		if headers == nil {
			headers = fields
			continue
		}
		if rec := toRecord(headers, fields); rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// ParseXLSX reads the first worksheet of an uploaded workbook with the same
// header and padding rules as ParseCSV.
func ParseXLSX(data []byte) ([]domain.RawRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []domain.RawRecord{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	var headers []string
	records := []domain.RawRecord{}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = cleanField(c)
		}
		if headers == nil {
			if allEmpty(cells) {
				continue
			}
			headers = cells
			continue
		}
		if rec := toRecord(headers, cells); rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ParseFile dispatches an uploaded file to the parser matching its extension.
func ParseFile(name string, data []byte) ([]domain.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return ParseXLSX(data)
	case ".csv", ".txt":
		return ParseCSV(string(data)), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedUpload, filepath.Ext(name))
	}
}

func splitLine(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		fields = strings.Split(line, ",")
	}
	for i := range fields {
		fields[i] = cleanField(fields[i])
	}
	return fields
}

func cleanField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}

func toRecord(headers, fields []string) domain.RawRecord {
	if allEmpty(fields) {
		return nil
	}
	rec := make(domain.RawRecord, len(headers))
	for i, h := range headers {
		v := ""
		if i < len(fields) {
			v = fields[i]
		}
		rec[h] = v
	}
	return rec
}

func allEmpty(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}

// Parser exposes the package parsers as a domain.RowParser.
type Parser struct{}

func (Parser) ParseCSV(text string) []domain.RawRecord { return ParseCSV(text) }

func (Parser) ParseFile(name string, data []byte) ([]domain.RawRecord, error) {
	return ParseFile(name, data)
}
