// Package parser converts uploaded files into the JSON payloads stored as
// message attachments. Tabular formats become an array of objects keyed by
// the header row, with numbers, booleans and blanks typed.
package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/pool"
)

// ErrUnsupported is returned for file types without a parser.
var ErrUnsupported = errors.New("parser: unsupported file type")

// Parsed is a file ready to be stored as an attachment.
type Parsed struct {
	FileName string
	FileType store.FileType
	Data     json.RawMessage
}

// Attachment converts p into a store attachment.
func (p *Parsed) Attachment() store.NewAttachment {
	return store.NewAttachment{FileName: p.FileName, FileType: p.FileType, Data: p.Data}
}

// Detect maps a file name to its type by extension.
func Detect(name string) (store.FileType, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return store.FileTypeCSV, nil
	case ".xlsx":
		return store.FileTypeXLSX, nil
	case ".json":
		return store.FileTypeJSON, nil
	case ".txt", ".md":
		return store.FileTypeText, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(name))
}

// Parse reads and converts the file at path.
func Parse(path string) (*Parsed, error) {
	if _, err := Detect(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ParseReader(filepath.Base(path), f)
}

// ParseReader converts the content of r, using name to pick the format.
func ParseReader(name string, r io.Reader) (*Parsed, error) {
	fileType, err := Detect(name)
	if err != nil {
		return nil, err
	}

	var data json.RawMessage
	switch fileType {
	case store.FileTypeCSV:
		data, err = parseCSV(r)
	case store.FileTypeXLSX:
		data, err = parseXLSX(r)
	case store.FileTypeJSON:
		data, err = parseJSON(r)
	case store.FileTypeText:
		data, err = parseText(r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return &Parsed{FileName: name, FileType: fileType, Data: data}, nil
}

func parseCSV(r io.Reader) (json.RawMessage, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	return json.Marshal(keyByHeader(records))
}

func parseXLSX(r io.Reader) (json.RawMessage, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return json.RawMessage(`[]`), nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return json.Marshal(keyByHeader(rows))
}

func parseJSON(r io.Reader) (json.RawMessage, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	raw := bytes.TrimSpace(buf.Bytes())
	if !json.Valid(raw) {
		return nil, errors.New("invalid JSON")
	}
	return bytes.Clone(raw), nil
}

func parseText(r io.Reader) (json.RawMessage, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	if !utf8.Valid(buf.Bytes()) {
		return nil, errors.New("text is not valid UTF-8")
	}
	return json.Marshal(buf.String())
}

// keyByHeader turns rows into objects keyed by the first row. Short rows are
// padded with nulls; extra cells beyond the header are dropped. Blank header
// cells are named column_N. Cell values are typed by inferValue.
func keyByHeader(rows [][]string) []map[string]any {
	out := []map[string]any{}
	if len(rows) == 0 {
		return out
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		header[i] = h
	}

	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		obj := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(row) {
				obj[h] = inferValue(row[i])
			} else {
				obj[h] = nil
			}
		}
		out = append(out, obj)
	}
	return out
}

// inferValue types a cell: blank is null, then integer, finite float and
// boolean word are tried in that order. Anything else stays the original
// string.
func inferValue(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	switch strings.ToLower(trimmed) {
	case "true", "t", "yes", "y":
		return true
	case "false", "f", "no", "n":
		return false
	}
	return cell
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
