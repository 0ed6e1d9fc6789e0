// Package csvlist reads the operator supplied CSV inputs: the project list
// and the incident export
package csvlist

import (
	"encoding/csv"
	"errors"
	"io"
	"slices"
	"strings"

	perr "fourkeys/internal/platform/errors"
)

// record is one data row addressed by header name
type record struct {
	line   int
	fields map[string]string
}

func (r record) get(col string) string { return strings.TrimSpace(r.fields[col]) }

// readRecords reads a headed CSV and hands every data row to fn.
// Missing required columns fail before any row is read.
func readRecords(r io.Reader, required []string, fn func(record) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return perr.InvalidArgf("csv is empty")
	}
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "csv header")
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	for _, col := range required {
		if !slices.Contains(header, col) {
			return perr.WithField(perr.InvalidArgf("csv missing column %q", col), col)
		}
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "csv line %d", line)
		}
		if blank(row) {
			continue
		}
		rec := record{line: line, fields: make(map[string]string, len(header))}
		for i, col := range header {
			if i < len(row) {
				rec.fields[col] = row[i]
			}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
