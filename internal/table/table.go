// Package table renders rows into the pipe delimited files the warehouse
// bulk loader consumes.
package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
)

// Delimiter separates fields in every staged file.
const Delimiter = '|'

// Schema is the ordered list of column names of a staged file.
type Schema []string

// Row maps column names to values. Columns missing from a row render empty.
type Row map[string]string

// Has reports whether name is a column of the schema.
func (s Schema) Has(name string) bool { return slices.Contains(s, name) }

// Write emits the header line followed by one line per row, fields in
// schema order. Lines end in CRLF; line breaks inside quoted fields are
// written unchanged. A row carrying a column outside the schema is rejected
// before anything for that row is written.
func Write(w io.Writer, schema Schema, rows []Row) error {
	var line bytes.Buffer
	cw := csv.NewWriter(&line)
	cw.Comma = Delimiter

	// csv with UseCRLF rewrites embedded \n and drops lone \r, so records
	// are encoded with LF and the terminator is swapped here.
	emit := func(record []string) error {
		line.Reset()
		if err := cw.Write(record); err != nil {
			return err
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		b := bytes.TrimSuffix(line.Bytes(), []byte{'\n'})
		if _, err := w.Write(b); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\r\n")
		return err
	}

	if err := emit(schema); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(schema))
	for i, row := range rows {
		for name := range row {
			if !schema.Has(name) {
				return fmt.Errorf("row %d: unknown column %q", i, name)
			}
		}
		for j, name := range schema {
			record[j] = row[name]
		}
		if err := emit(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return nil
}

// Encode is Write into a fresh buffer.
func Encode(schema Schema, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, schema, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
