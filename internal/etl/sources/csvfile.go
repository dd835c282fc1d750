package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"curator/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads a local CSV file and renders it as a JSON array of objects whose
// keys follow the header order.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Absolute path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Required: false, Default: ",", Help: "Column delimiter (default: comma)"},
			{Key: "hasHeader", Label: "Has Header", Type: "select", Required: false, Options: []string{"true", "false"}, Default: "true", Help: "Whether the first row contains column names"},
		},
	}
}

func (s *csvFileSource) Fetch(ctx context.Context, cfg etl.SourceConfig) ([]byte, error) {
	headers, rows, err := readCSVFile(cfg)
	if err != nil {
		return nil, err
	}

	items := make([]etl.Value, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members := make([]etl.Member, 0, len(headers))
		for j, h := range headers {
			if j < len(row) {
				members = append(members, etl.Member{Key: h, Value: inferCSVValue(row[j])})
			}
		}
		items = append(items, etl.Object(members...))
	}
	return etl.Array(items...).MarshalJSON()
}

func readCSVFile(cfg etl.SourceConfig) ([]string, [][]string, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return nil, nil, fmt.Errorf("filePath is required")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if delim := cfg.String("delimiter"); delim != "" {
		reader.Comma = []rune(delim)[0]
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty csv file")
	}

	hasHeader := true
	if h := cfg.String("hasHeader"); h != "" {
		hasHeader = strings.ToLower(h) != "false"
	}

	if hasHeader {
		return records[0], records[1:], nil
	}

	// Generate column names: col_1, col_2, ...
	width := 0
	for _, r := range records {
		width = max(width, len(r))
	}
	headers := make([]string, width)
	for i := range headers {
		headers[i] = fmt.Sprintf("col_%d", i+1)
	}
	return headers, records, nil
}

// inferCSVValue turns a cell into a number, bool, null or string.
func inferCSVValue(s string) etl.Value {
	switch strings.TrimSpace(s) {
	case "":
		return etl.Null()
	case "true", "TRUE", "True":
		return etl.Bool(true)
	case "false", "FALSE", "False":
		return etl.Bool(false)
	}
	if !looksNumeric(s) {
		return etl.String(s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return etl.Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return etl.Float(f)
	}
	return etl.String(s)
}

// looksNumeric rejects words ParseFloat would accept, such as "NaN" or "Inf".
func looksNumeric(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && !strings.ContainsRune("+-.eE", c) {
			return false
		}
	}
	return true
}
