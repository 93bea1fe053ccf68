package sink

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/crimestats/crimestats/internal/codec"
	"github.com/crimestats/crimestats/pkg/types"
)

// CSVSink writes a CSV file with a header row.
type CSVSink struct {
	Path       string
	DateFormat types.DateFormat
}

// NewCSVSink creates a CSVSink.
func NewCSVSink(path string, df types.DateFormat) *CSVSink {
	return &CSVSink{Path: path, DateFormat: df}
}

// Name returns the output path.
func (s *CSVSink) Name() string { return s.Path }

// Write writes t to the file, replacing it atomically.
func (s *CSVSink) Write(ctx context.Context, t types.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(s.Path, func(f *os.File) error {
		return WriteCSV(f, codec.ForName(s.Path), t, s.DateFormat)
	})
}

// WriteCSV encodes t as CSV into w using compression c.
func WriteCSV(w io.Writer, c codec.Compression, t types.Table, df types.DateFormat) error {
	buf := bufio.NewWriterSize(w, 64*1024)
	cw := c.WrapWriter(buf)

	enc := codec.NewWriter(cw, df)
	if err := enc.WriteTable(t); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return buf.Flush()
}
