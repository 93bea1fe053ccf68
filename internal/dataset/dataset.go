// Package dataset answers the questions asked by the crime dashboard: which
// suburbs and offence categories exist, and how offences break down by
// month, category and suburb for a selection.
package dataset

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/internal/source"
	"github.com/crimestats/crimestats/pkg/types"
)

// AllData is the option meaning "no restriction" for a selection field.
const AllData = "All Data"

// Dataset is an immutable set of incidents with their reporting months.
type Dataset struct {
	rows   types.Table
	months []string
}

// New creates a Dataset over a copy of t.
func New(t types.Table) *Dataset {
	rows := t.Clone()
	months := make([]string, len(rows))
	for i, in := range rows {
		months[i] = in.Month()
	}
	return &Dataset{rows: rows, months: months}
}

// Load reads a dataset from src. Local .db and .sqlite files are read as
// SQLite; everything else as CSV.
func Load(ctx context.Context, src source.Source, df types.DateFormat) (*Dataset, error) {
	if fs, ok := src.(*source.FileSource); ok {
		switch strings.ToLower(filepath.Ext(fs.Path)) {
		case ".db", ".sqlite":
			t, err := sink.LoadSQLite(ctx, fs.Path)
			if err != nil {
				return nil, err
			}
			return New(t), nil
		}
	}

	r, closer, err := source.Decode(ctx, src, df)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	t, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Table returns a copy of the rows.
func (d *Dataset) Table() types.Table { return d.rows.Clone() }

// Suburbs returns the sorted unique suburbs.
func (d *Dataset) Suburbs() []string {
	return d.rows.Suburbs()
}

// Level1Options returns AllData followed by every level 1 description.
func (d *Dataset) Level1Options() []string {
	return d.options(func(in types.Incident) (string, bool) {
		return in.OffenceLevel1, true
	})
}

// Level2Options returns AllData followed by the level 2 descriptions under
// level1, or every level 2 description when level1 is AllData.
func (d *Dataset) Level2Options(level1 string) []string {
	return d.options(func(in types.Incident) (string, bool) {
		return in.OffenceLevel2, isAll(level1) || in.OffenceLevel1 == level1
	})
}

// Level3Options returns AllData followed by the level 3 descriptions under
// level2, or every level 3 description when level2 is AllData.
func (d *Dataset) Level3Options(level2 string) []string {
	return d.options(func(in types.Incident) (string, bool) {
		return in.OffenceLevel3, isAll(level2) || in.OffenceLevel2 == level2
	})
}

func (d *Dataset) options(pick func(types.Incident) (string, bool)) []string {
	seen := make(map[string]struct{})
	for _, in := range d.rows {
		if v, ok := pick(in); ok {
			seen[v] = struct{}{}
		}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return append([]string{AllData}, values...)
}

// Selection restricts a dataset. Empty fields and AllData select everything.
type Selection struct {
	Suburb string `json:"suburb"`
	Level1 string `json:"level1"`
	Level2 string `json:"level2"`
	Level3 string `json:"level3"`
}

func (s Selection) matches(in types.Incident) bool {
	return (isAll(s.Suburb) || in.Suburb == s.Suburb) &&
		(isAll(s.Level1) || in.OffenceLevel1 == s.Level1) &&
		(isAll(s.Level2) || in.OffenceLevel2 == s.Level2) &&
		(isAll(s.Level3) || in.OffenceLevel3 == s.Level3)
}

func isAll(v string) bool {
	return v == "" || v == AllData
}

// Filter returns the rows matching sel, in their original order.
func (d *Dataset) Filter(sel Selection) *Dataset {
	out := &Dataset{}
	for i, in := range d.rows {
		if sel.matches(in) {
			out.rows = append(out.rows, in)
			out.months = append(out.months, d.months[i])
		}
	}
	return out
}
