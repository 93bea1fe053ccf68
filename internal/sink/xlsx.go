package sink

import (
	"context"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/crimestats/crimestats/pkg/types"
)

// SheetName is the worksheet holding the incidents.
const SheetName = "Incidents"

// XLSXSink writes an Excel workbook with one sheet.
type XLSXSink struct {
	Path       string
	DateFormat types.DateFormat
}

// NewXLSXSink creates an XLSXSink.
func NewXLSXSink(path string, df types.DateFormat) *XLSXSink {
	return &XLSXSink{Path: path, DateFormat: df}
}

// Name returns the workbook path.
func (s *XLSXSink) Name() string { return s.Path }

// Write writes t as a workbook, replacing the file atomically.
func (s *XLSXSink) Write(ctx context.Context, t types.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(s.Path, func(f *os.File) error {
		return WriteXLSX(f, t, s.DateFormat)
	})
}

// WriteXLSX encodes t as a workbook into w. Dates are rendered as text in
// df's output layout and counts as numbers.
func WriteXLSX(w io.Writer, t types.Table, df types.DateFormat) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, len(types.RequiredFields), 22); err != nil {
		return err
	}

	header := make([]interface{}, len(types.RequiredFields))
	for i, name := range types.RequiredFields {
		header[i] = name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, in := range t {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			df.Format(in.ReportedDate),
			in.Suburb,
			in.Postcode,
			in.OffenceLevel1,
			in.OffenceLevel2,
			in.OffenceLevel3,
			in.OffenceCount,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}
