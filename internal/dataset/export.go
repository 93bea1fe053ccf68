package dataset

import (
	"io"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/crimestats/crimestats/internal/codec"
	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/pkg/types"
)

// ExportCSV writes the rows as CSV with a header.
func (d *Dataset) ExportCSV(w io.Writer, df types.DateFormat) error {
	return sink.WriteCSV(w, codec.None, d.rows, df)
}

// ExportXLSX writes the rows as an Excel workbook.
func (d *Dataset) ExportXLSX(w io.Writer, df types.DateFormat) error {
	return sink.WriteXLSX(w, d.rows, df)
}

var whitespace = regexp.MustCompile(`\s+`)

// SanitizeFilename turns a suburb name into a filename component: runs of
// whitespace become underscores, accents are dropped and anything other
// than letters, digits, underscore and hyphen is removed.
func SanitizeFilename(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}

	stripped = whitespace.ReplaceAllString(stripped, "_")
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			return r
		}
		return -1
	}, stripped)
}

// ExportFilename builds a download name such as
// filtered_crime_data_NORTH_ADELAIDE.csv. An empty or AllData suburb is
// left out.
func ExportFilename(prefix, suburb, ext string) string {
	name := prefix
	if !isAll(suburb) {
		if s := SanitizeFilename(suburb); s != "" {
			name += "_" + s
		}
	}
	return name + ext
}
