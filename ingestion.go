package intake

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/blnkfinance/intake/model"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// ParsedFile is the result of reading one delimited file.
type ParsedFile struct {
	Headers    []string
	Delimiter  rune
	Rows       []model.RawRow
	Structural []StructuralRowError
	// TotalRows counts non-blank data rows, structurally invalid ones included.
	TotalRows int
}

// Parse reads raw delimited text against schema. The header row is checked
// before any data row is read; a file missing required headers is rejected
// whole with a *SchemaError naming every missing header. Data rows with the
// wrong number of fields are skipped and reported in Structural.
func Parse(raw []byte, schema Schema) (*ParsedFile, error) {
	data := bytes.TrimPrefix(raw, utf8BOM)

	headerLine := firstLine(data)
	if len(bytes.TrimSpace(headerLine)) == 0 {
		return nil, &SchemaError{Missing: schema.RequiredHeaders()}
	}
	delimiter := detectDelimiter(headerLine)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, &SchemaError{Missing: schema.RequiredHeaders()}
	}
	if err != nil {
		return nil, fmt.Errorf("error reading header row: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	if missing := missingHeaders(headers, schema); len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	parsed := &ParsedFile{Headers: headers, Delimiter: delimiter}
	index := 0
	for {
		start := reader.InputOffset()
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rawText := strings.Trim(string(data[start:reader.InputOffset()]), "\r\n")

		if err != nil {
			index++
			parsed.TotalRows++
			parsed.Structural = append(parsed.Structural, StructuralRowError{Row: index, Expected: len(headers), Reason: err.Error()})
			continue
		}
		if isBlankRecord(record) {
			continue
		}

		index++
		parsed.TotalRows++
		if len(record) != len(headers) {
			parsed.Structural = append(parsed.Structural, StructuralRowError{Row: index, Expected: len(headers), Got: len(record)})
			continue
		}
		parsed.Rows = append(parsed.Rows, model.NewRawRow(index, headers, record, rawText))
	}

	return parsed, nil
}

// detectDelimiter picks tab for headers that carry tabs and no commas.
func detectDelimiter(headerLine []byte) rune {
	if bytes.IndexByte(headerLine, '\t') >= 0 && bytes.IndexByte(headerLine, ',') < 0 {
		return '\t'
	}
	return ','
}

func firstLine(data []byte) []byte {
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if len(bytes.TrimSpace(line)) > 0 {
			return line
		}
	}
	return nil
}

func missingHeaders(headers []string, schema Schema) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(h)] = true
	}

	var missing []string
	for _, required := range schema.RequiredHeaders() {
		if !present[strings.ToLower(required)] {
			missing = append(missing, required)
		}
	}
	return missing
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
