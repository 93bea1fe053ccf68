// Package merge combines incident extracts into one canonical table:
// exact duplicates removed, logical duplicates aggregated by identity key,
// ordered by reported date then suburb.
package merge

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/crimestats/crimestats/internal/codec"
	"github.com/crimestats/crimestats/internal/config"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/source"
	"github.com/crimestats/crimestats/pkg/types"
)

// Options configures a Merger.
type Options struct {
	// Policy decides whether a failing source is skipped or aborts the run
	Policy config.SourcePolicy

	// DateFormat is used to parse the Reported Date column
	DateFormat types.DateFormat

	// Logger receives per-source diagnostics
	Logger zerolog.Logger

	// Verify re-checks the output invariants before returning
	Verify bool
}

// DefaultOptions returns skip-and-continue options with the dd/mm/yyyy date format.
func DefaultOptions() Options {
	return Options{
		Policy:     config.PolicySkip,
		DateFormat: types.DefaultDateFormat(),
		Logger:     zerolog.Nop(),
		Verify:     true,
	}
}

// Stats summarises one merge.
type Stats struct {
	FilesProcessed int `json:"files_processed"`
	FilesSkipped   int `json:"files_skipped"`

	// RowsRead counts decoded data rows of processed files, rejected rows included
	RowsRead     int `json:"rows_read"`
	RowsRejected int `json:"rows_rejected"`

	ExactDuplicates int `json:"exact_duplicates"`

	// LogicalDuplicates counts rows in key partitions with more than one member
	LogicalDuplicates int `json:"logical_duplicates"`

	// Groups counts key partitions with more than one member
	Groups int `json:"groups"`

	FinalRows  int   `json:"final_rows"`
	TotalCount int64 `json:"total_count"`
}

// RowsMerged returns the number of rows that entered the merge.
func (s Stats) RowsMerged() int {
	return s.RowsRead - s.RowsRejected
}

// Result contains the output of a merge operation.
type Result struct {
	Table        types.Table
	Stats        Stats
	SourceErrors []*source.Error
}

// Merger merges record sources into a canonical table.
type Merger struct {
	opts Options
}

// New creates a Merger.
func New(opts Options) *Merger {
	if opts.Policy == "" {
		opts.Policy = config.PolicySkip
	}
	return &Merger{opts: opts}
}

// Merge reads every source in the order supplied and returns the canonical
// table. Sources are read one at a time; the table is built only after all
// of them are loaded so every row sharing a key is grouped together.
func (m *Merger) Merge(ctx context.Context, sources []source.Source) (*Result, error) {
	if len(sources) == 0 {
		return nil, errors.NewConfigError(errors.CodeNoInputs, "no input sources supplied")
	}

	logger := m.opts.Logger
	result := &Result{}
	var rows types.Table

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		loaded, read, rejected, err := m.load(ctx, src)
		if err != nil {
			if m.opts.Policy == config.PolicyFailFast {
				return nil, err
			}
			logger.Warn().Err(err).Str("source", src.Name()).Msg("skipping source")
			result.SourceErrors = append(result.SourceErrors, &source.Error{Source: src.Name(), Err: err})
			result.Stats.FilesSkipped++
			continue
		}

		result.Stats.FilesProcessed++
		result.Stats.RowsRead += read
		result.Stats.RowsRejected += rejected
		rows = append(rows, loaded...)

		logger.Info().
			Str("source", src.Name()).
			Int("rows", len(loaded)).
			Int("rejected", rejected).
			Msg("added rows")
	}

	if len(rows) == 0 {
		return nil, errors.NewDataError(errors.CodeNoRows, "no usable rows to merge").
			WithDetails(map[string]interface{}{
				"files_processed": result.Stats.FilesProcessed,
				"files_skipped":   result.Stats.FilesSkipped,
			})
	}

	rows, result.Stats.ExactDuplicates = dropExactDuplicates(rows)
	logger.Info().Int("removed", result.Stats.ExactDuplicates).Msg("removed exact duplicates")

	table, logical, groups, err := aggregate(rows)
	if err != nil {
		return nil, err
	}
	expected, err := totalCount(rows)
	if err != nil {
		return nil, err
	}
	result.Stats.LogicalDuplicates = logical
	result.Stats.Groups = groups
	if logical > 0 {
		logger.Info().
			Int("rows", logical).
			Int("groups", groups).
			Msg("aggregated logical duplicates")
	}

	table.SortCanonical()
	result.Table = table
	result.Stats.FinalRows = len(table)
	result.Stats.TotalCount = expected

	if m.opts.Verify {
		if vr := Validate(table, expected); !vr.Valid {
			return nil, errors.New(errors.ErrCategoryInternal, errors.CodeValidationFailed,
				"merged table failed validation").
				WithDetails(map[string]interface{}{"errors": vr.Errors})
		}
	}

	return result, nil
}

// load decodes one source completely. A source is all-or-nothing: a parse
// failure part way through discards the rows already read from it.
func (m *Merger) load(ctx context.Context, src source.Source) (types.Table, int, int, error) {
	r, closer, err := source.Decode(ctx, src, m.opts.DateFormat)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closer.Close()

	r.OnReject = func(rowErr *codec.RowError) {
		m.opts.Logger.Debug().Err(rowErr.Err).Str("source", rowErr.Source).Int("line", rowErr.Line).Msg("rejected row")
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, 0, 0, err
	}
	return rows, r.RowsRead(), r.Rejected(), nil
}

// dropExactDuplicates removes rows equal on every field, keeping the first.
func dropExactDuplicates(rows types.Table) (types.Table, int) {
	seen := make(map[types.Incident]struct{}, len(rows))
	out := make(types.Table, 0, len(rows))
	for _, in := range rows {
		if _, dup := seen[in]; dup {
			continue
		}
		seen[in] = struct{}{}
		out = append(out, in)
	}
	return out, len(rows) - len(out)
}

// aggregate collapses each key partition into one row carrying the summed
// count. It returns the rows ordered by full key, the number of rows that
// belonged to a partition with more than one member and the number of such
// partitions. A partition whose summed count does not fit in an int64 is a
// data error.
func aggregate(rows types.Table) (types.Table, int, int, error) {
	index := make(map[types.Key]int, len(rows))
	sizes := make([]int, 0, len(rows))
	out := make(types.Table, 0, len(rows))

	for _, in := range rows {
		k := in.Key()
		if i, ok := index[k]; ok {
			sum, ok := addCount(out[i].OffenceCount, in.OffenceCount)
			if !ok {
				return nil, 0, 0, countOverflow(fmt.Sprintf("offence count for %s %s on %s overflows",
					k.Suburb, k.OffenceLevel3, in.ReportedDate.Format("2006-01-02")))
			}
			out[i].OffenceCount = sum
			sizes[i]++
			continue
		}
		index[k] = len(out)
		out = append(out, in)
		sizes = append(sizes, 1)
	}

	var logical, groups int
	for _, n := range sizes {
		if n > 1 {
			logical += n
			groups++
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return types.KeyLess(out[i].Key(), out[j].Key())
	})
	return out, logical, groups, nil
}

// totalCount sums the offence counts of rows, failing instead of wrapping.
func totalCount(rows types.Table) (int64, error) {
	var total int64
	for _, in := range rows {
		var ok bool
		if total, ok = addCount(total, in.OffenceCount); !ok {
			return 0, countOverflow("total offence count overflows")
		}
	}
	return total, nil
}

// addCount adds two non-negative counts and reports whether the sum fits.
func addCount(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

func countOverflow(msg string) error {
	return errors.NewDataError(errors.CodeCountOverflow, msg).
		WithDetails(map[string]interface{}{"max": int64(math.MaxInt64)})
}
