// Package types provides the core record types for crimestats.
package types

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Field header names as they appear in the source extracts.
const (
	FieldReportedDate  = "Reported Date"
	FieldSuburb        = "Suburb - Incident"
	FieldPostcode      = "Postcode - Incident"
	FieldOffenceLevel1 = "Offence Level 1 Description"
	FieldOffenceLevel2 = "Offence Level 2 Description"
	FieldOffenceLevel3 = "Offence Level 3 Description"
	FieldOffenceCount  = "Offence count"
)

// RequiredFields lists every field a source must supply, in output order.
var RequiredFields = []string{
	FieldReportedDate,
	FieldSuburb,
	FieldPostcode,
	FieldOffenceLevel1,
	FieldOffenceLevel2,
	FieldOffenceLevel3,
	FieldOffenceCount,
}

// IdentityFields are the fields forming the identity key. Offence count is
// never part of identity.
var IdentityFields = RequiredFields[:6]

// Incident is one row of an incident table.
type Incident struct {
	// ReportedDate is the calendar date the incident was reported (UTC midnight)
	ReportedDate time.Time `json:"reported_date"`

	// Suburb is the free-text location name
	Suburb string `json:"suburb"`

	// Postcode is kept as text; extracts mix numeric and padded forms
	Postcode string `json:"postcode"`

	// OffenceLevel1 is the broadest offence category
	OffenceLevel1 string `json:"offence_level_1"`

	// OffenceLevel2 refines OffenceLevel1
	OffenceLevel2 string `json:"offence_level_2"`

	// OffenceLevel3 refines OffenceLevel2
	OffenceLevel3 string `json:"offence_level_3"`

	// OffenceCount is the non-negative number of offences for this combination
	OffenceCount int64 `json:"offence_count"`
}

// Key is the six-field identity of an incident.
type Key struct {
	ReportedDate  time.Time
	Suburb        string
	Postcode      string
	OffenceLevel1 string
	OffenceLevel2 string
	OffenceLevel3 string
}

// Key returns the identity key of the incident.
func (in Incident) Key() Key {
	return Key{
		ReportedDate:  in.ReportedDate,
		Suburb:        in.Suburb,
		Postcode:      in.Postcode,
		OffenceLevel1: in.OffenceLevel1,
		OffenceLevel2: in.OffenceLevel2,
		OffenceLevel3: in.OffenceLevel3,
	}
}

// Month returns the reporting month as YYYY-MM.
func (in Incident) Month() string {
	return in.ReportedDate.Format("2006-01")
}

// Values returns the incident as a string slice in RequiredFields order.
func (in Incident) Values(df DateFormat) []string {
	return []string{
		df.Format(in.ReportedDate),
		in.Suburb,
		in.Postcode,
		in.OffenceLevel1,
		in.OffenceLevel2,
		in.OffenceLevel3,
		strconv.FormatInt(in.OffenceCount, 10),
	}
}

// CanonicalLess orders incidents by reported date, then suburb.
func CanonicalLess(a, b Incident) bool {
	if !a.ReportedDate.Equal(b.ReportedDate) {
		return a.ReportedDate.Before(b.ReportedDate)
	}
	return a.Suburb < b.Suburb
}

// KeyLess orders identity keys field by field in RequiredFields order.
func KeyLess(a, b Key) bool {
	if !a.ReportedDate.Equal(b.ReportedDate) {
		return a.ReportedDate.Before(b.ReportedDate)
	}
	for _, p := range [...][2]string{
		{a.Suburb, b.Suburb},
		{a.Postcode, b.Postcode},
		{a.OffenceLevel1, b.OffenceLevel1},
		{a.OffenceLevel2, b.OffenceLevel2},
		{a.OffenceLevel3, b.OffenceLevel3},
	} {
		if p[0] != p[1] {
			return p[0] < p[1]
		}
	}
	return false
}

// CoerceCount parses an offence count. Values that are not a non-negative
// whole number become zero.
func CoerceCount(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return 0
	}
	// float64(math.MaxInt64) is 2^63, which does not fit.
	if f != math.Trunc(f) {
		return 0
	}
	return int64(f)
}

// DateFormat pairs the layout used to parse reported dates with the layout
// used to write them back out.
type DateFormat struct {
	// Parse is the time layout used when reading
	Parse string `json:"parse" yaml:"parse"`

	// Output is the time layout used when writing
	Output string `json:"output" yaml:"output"`
}

// Layouts used by the state extracts.
const (
	LayoutDayMonthYear        = "02/01/2006"
	layoutDayMonthYearLenient = "2/1/2006"
	LayoutISO                 = "2006-01-02"
)

// DefaultDateFormat reads dd/mm/yyyy (padding optional) and writes dd/mm/yyyy.
func DefaultDateFormat() DateFormat {
	return DateFormat{Parse: layoutDayMonthYearLenient, Output: LayoutDayMonthYear}
}

// ISODateFormat reads and writes yyyy-mm-dd.
func ISODateFormat() DateFormat {
	return DateFormat{Parse: LayoutISO, Output: LayoutISO}
}

// NewDateFormat builds a DateFormat from a single layout. The zero-padded
// day/month layout is read leniently.
func NewDateFormat(layout string) DateFormat {
	switch layout {
	case "", LayoutDayMonthYear, layoutDayMonthYearLenient:
		return DefaultDateFormat()
	default:
		return DateFormat{Parse: layout, Output: layout}
	}
}

// ParseDate parses a reported date, returning ErrInvalidDate on failure.
func (df DateFormat) ParseDate(raw string) (time.Time, error) {
	layout := df.Parse
	if layout == "" {
		layout = layoutDayMonthYearLenient
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, &DateError{Value: raw, Layout: layout, Err: err}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// Format renders a reported date in the output layout.
func (df DateFormat) Format(t time.Time) string {
	layout := df.Output
	if layout == "" {
		layout = LayoutDayMonthYear
	}
	return t.Format(layout)
}
