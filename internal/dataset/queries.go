package dataset

import (
	"fmt"
	"sort"
)

// Summary holds the headline figures for a selection.
type Summary struct {
	TotalOffences      int64 `json:"total_offences"`
	UniqueOffenceTypes int   `json:"unique_offence_types"`
	Months             int   `json:"months"`
}

// Summary returns total offences, distinct level 3 descriptions and the
// number of distinct reporting months.
func (d *Dataset) Summary() Summary {
	kinds := make(map[string]struct{})
	months := make(map[string]struct{})
	var s Summary
	for i, in := range d.rows {
		s.TotalOffences += in.OffenceCount
		kinds[in.OffenceLevel3] = struct{}{}
		months[d.months[i]] = struct{}{}
	}
	s.UniqueOffenceTypes = len(kinds)
	s.Months = len(months)
	return s
}

// MonthCount is the offence total for one month.
type MonthCount struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

// MonthlySeries returns offence totals per month, oldest first.
func (d *Dataset) MonthlySeries() []MonthCount {
	totals := make(map[string]int64)
	for i, in := range d.rows {
		totals[d.months[i]] += in.OffenceCount
	}
	out := make([]MonthCount, 0, len(totals))
	for m, c := range totals {
		out = append(out, MonthCount{Month: m, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// CategoryCount is the number of rows carrying one offence description.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Distribution counts rows per description at the given offence level
// (1, 2 or 3), most frequent first.
func (d *Dataset) Distribution(level int) ([]CategoryCount, error) {
	if level < 1 || level > 3 {
		return nil, fmt.Errorf("offence level must be 1, 2 or 3, got %d", level)
	}
	counts := make(map[string]int)
	for _, in := range d.rows {
		switch level {
		case 1:
			counts[in.OffenceLevel1]++
		case 2:
			counts[in.OffenceLevel2]++
		default:
			counts[in.OffenceLevel3]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, CategoryCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SuburbMonthCount is the offence total for one suburb in one month.
type SuburbMonthCount struct {
	Suburb string `json:"suburb"`
	Month  string `json:"month"`
	Count  int64  `json:"count"`
}

// SuburbTrends returns offence totals per suburb and month, ordered by
// suburb then month.
func (d *Dataset) SuburbTrends() []SuburbMonthCount {
	type key struct{ suburb, month string }
	totals := make(map[key]int64)
	for i, in := range d.rows {
		totals[key{in.Suburb, d.months[i]}] += in.OffenceCount
	}
	out := make([]SuburbMonthCount, 0, len(totals))
	for k, c := range totals {
		out = append(out, SuburbMonthCount{Suburb: k.suburb, Month: k.month, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Suburb != out[j].Suburb {
			return out[i].Suburb < out[j].Suburb
		}
		return out[i].Month < out[j].Month
	})
	return out
}

// Heatmap is a suburb by month matrix of offence totals.
type Heatmap struct {
	Suburbs []string  `json:"suburbs"`
	Months  []string  `json:"months"`
	Counts  [][]int64 `json:"counts"`
}

// Heatmap returns offence totals with one row per suburb and one column per
// month. Missing combinations are zero.
func (d *Dataset) Heatmap() Heatmap {
	trends := d.SuburbTrends()

	monthSet := make(map[string]struct{})
	for _, m := range d.months {
		monthSet[m] = struct{}{}
	}
	h := Heatmap{Suburbs: d.Suburbs(), Months: make([]string, 0, len(monthSet))}
	for m := range monthSet {
		h.Months = append(h.Months, m)
	}
	sort.Strings(h.Months)

	row := make(map[string]int, len(h.Suburbs))
	for i, s := range h.Suburbs {
		row[s] = i
	}
	col := make(map[string]int, len(h.Months))
	for i, m := range h.Months {
		col[m] = i
	}

	h.Counts = make([][]int64, len(h.Suburbs))
	for i := range h.Counts {
		h.Counts[i] = make([]int64, len(h.Months))
	}
	for _, t := range trends {
		h.Counts[row[t.Suburb]][col[t.Month]] = t.Count
	}
	return h
}
