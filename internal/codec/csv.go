// Package codec reads and writes incident tables as CSV.
package codec

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/pkg/types"
)

const utf8BOM = "\ufeff"

// RowError reports a data row that was rejected. The reader stays usable.
type RowError struct {
	Source string
	Line   int
	Err    error
}

// Error returns a formatted error string.
func (e *RowError) Error() string {
	return fmt.Sprintf("%s line %d: %v", e.Source, e.Line, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RowError) Unwrap() error {
	return e.Err
}

// Reader decodes incidents from a CSV stream with a header row.
type Reader struct {
	name     string
	csv      *csv.Reader
	df       types.DateFormat
	index    [7]int
	rowsRead int
	rejected int

	// OnReject, if set, is called for every row rejected by Read.
	OnReject func(err *RowError)
}

// NewReader reads the header of r and locates the required fields.
// Extra columns are ignored. A stream without a header yields an
// EMPTY_SOURCE error, and every missing field is reported at once.
func NewReader(name string, r io.Reader, df types.DateFormat) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.NewSourceError(errors.CodeEmptySource,
			fmt.Sprintf("%s has no header row", name), nil)
	}
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeParseFailed,
			fmt.Sprintf("failed to read header of %s", name), err)
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if _, dup := positions[h]; !dup {
			positions[h] = i
		}
	}

	rd := &Reader{name: name, csv: cr, df: df}
	var missing []string
	for i, field := range types.RequiredFields {
		pos, ok := positions[field]
		if !ok {
			missing = append(missing, field)
			continue
		}
		rd.index[i] = pos
	}
	if len(missing) > 0 {
		return nil, errors.NewSourceError(errors.CodeMissingFields,
			fmt.Sprintf("%s is missing required fields: %s", name, strings.Join(missing, ", ")), nil).
			WithDetails(map[string]interface{}{"source": name, "missing": missing})
	}
	return rd, nil
}

// Name returns the source name the reader was created with.
func (r *Reader) Name() string { return r.name }

// RowsRead returns the number of data rows decoded so far, rejected rows included.
func (r *Reader) RowsRead() int { return r.rowsRead }

// Rejected returns the number of rows rejected so far.
func (r *Reader) Rejected() int { return r.rejected }

// Read returns the next incident. It returns io.EOF at the end of the
// stream, a *RowError wrapping types.ErrInvalidDate for a row whose date
// does not parse, and a PARSE_FAILED source error for malformed CSV.
func (r *Reader) Read() (types.Incident, error) {
	record, err := r.csv.Read()
	if err == io.EOF {
		return types.Incident{}, io.EOF
	}
	if err != nil {
		return types.Incident{}, errors.NewSourceError(errors.CodeParseFailed,
			fmt.Sprintf("failed to parse %s", r.name), err)
	}
	r.rowsRead++

	date, err := r.df.ParseDate(record[r.index[0]])
	if err != nil {
		line, _ := r.csv.FieldPos(r.index[0])
		r.rejected++
		rowErr := &RowError{Source: r.name, Line: line, Err: err}
		if r.OnReject != nil {
			r.OnReject(rowErr)
		}
		return types.Incident{}, rowErr
	}

	return types.Incident{
		ReportedDate:  date,
		Suburb:        record[r.index[1]],
		Postcode:      record[r.index[2]],
		OffenceLevel1: record[r.index[3]],
		OffenceLevel2: record[r.index[4]],
		OffenceLevel3: record[r.index[5]],
		OffenceCount:  types.CoerceCount(record[r.index[6]]),
	}, nil
}

// ReadBatch reads up to n valid incidents, skipping rejected rows. It
// returns io.EOF only when no rows remain.
func (r *Reader) ReadBatch(n int) (types.Table, error) {
	if n <= 0 {
		n = 1
	}
	batch := make(types.Table, 0, min(n, 4096))
	for len(batch) < n {
		in, err := r.Read()
		if err == io.EOF {
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		var rowErr *RowError
		if stderrors.As(err, &rowErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, in)
	}
	return batch, nil
}

// ReadAll reads every remaining valid incident.
func (r *Reader) ReadAll() (types.Table, error) {
	var out types.Table
	for {
		batch, err := r.ReadBatch(4096)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
}

// Writer encodes incidents as CSV in required-field order.
type Writer struct {
	csv         *csv.Writer
	df          types.DateFormat
	wroteHeader bool
}

// NewWriter creates a Writer that renders dates with df.
func NewWriter(w io.Writer, df types.DateFormat) *Writer {
	return &Writer{csv: csv.NewWriter(w), df: df}
}

// WriteHeader writes the header row once.
func (w *Writer) WriteHeader() error {
	if w.wroteHeader {
		return nil
	}
	w.wroteHeader = true
	return w.csv.Write(types.RequiredFields)
}

// Write writes one incident, preceded by the header if needed.
func (w *Writer) Write(in types.Incident) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	return w.csv.Write(in.Values(w.df))
}

// WriteTable writes the header and every row of t. An empty table still
// produces a header.
func (w *Writer) WriteTable(t types.Table) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, in := range t {
		if err := w.csv.Write(in.Values(w.df)); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}
