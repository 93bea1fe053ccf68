// Package filter extracts the rows of selected suburbs from large incident
// extracts, reading each source in bounded batches.
package filter

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/crimestats/crimestats/internal/config"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/source"
	"github.com/crimestats/crimestats/pkg/types"
)

// DefaultBatchSize is the number of rows read per batch.
const DefaultBatchSize = 1_000_000

// Filter keeps the rows whose suburb is in Suburbs.
type Filter struct {
	// Suburbs to keep
	Suburbs []string

	// Policy for sources that cannot be read; empty sources are always skipped
	Policy config.SourcePolicy

	// BatchSize bounds the rows held from one source before matching
	BatchSize int

	DateFormat types.DateFormat

	// FoldCase matches suburbs ignoring case and surrounding space
	FoldCase bool

	Logger zerolog.Logger
}

// Stats summarises one run.
type Stats struct {
	FilesProcessed int `json:"files_processed"`
	FilesSkipped   int `json:"files_skipped"`
	Batches        int `json:"batches"`
	RowsScanned    int `json:"rows_scanned"`
	RowsRejected   int `json:"rows_rejected"`
	RowsMatched    int `json:"rows_matched"`
}

// Result contains the filtered table.
type Result struct {
	Table        types.Table
	Stats        Stats
	SourceErrors []*source.Error

	// Unmatched lists requested suburbs that matched no row
	Unmatched []string
}

// Run filters every source in order and returns the matching rows sorted
// by reported date then suburb. No match at all is not an error: the
// result holds an empty table.
func (f *Filter) Run(ctx context.Context, sources []source.Source) (*Result, error) {
	if len(sources) == 0 {
		return nil, errors.NewConfigError(errors.CodeNoInputs, "no input sources supplied")
	}

	normalize := f.normalizer()
	want := make(map[string]string, len(f.Suburbs))
	for _, s := range f.Suburbs {
		if k := normalize(s); k != "" {
			want[k] = s
		}
	}
	if len(want) == 0 {
		return nil, errors.NewConfigError(errors.CodeNoSuburbs, "no suburbs supplied")
	}

	batchSize := f.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	result := &Result{Table: types.Table{}}
	seen := make(map[string]bool, len(want))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matched, stats, err := f.scan(ctx, src, batchSize, normalize, want, seen)
		if err != nil {
			if errors.GetCode(err) == errors.CodeEmptySource {
				f.Logger.Warn().Str("source", src.Name()).Msg("source is empty, skipping")
			} else if f.Policy != config.PolicySkip {
				return nil, err
			} else {
				f.Logger.Warn().Err(err).Str("source", src.Name()).Msg("skipping source")
			}
			result.SourceErrors = append(result.SourceErrors, &source.Error{Source: src.Name(), Err: err})
			result.Stats.FilesSkipped++
			continue
		}

		result.Stats.FilesProcessed++
		result.Stats.Batches += stats.Batches
		result.Stats.RowsScanned += stats.RowsScanned
		result.Stats.RowsRejected += stats.RowsRejected
		result.Table = append(result.Table, matched...)

		f.Logger.Info().
			Str("source", src.Name()).
			Int("matched", len(matched)).
			Int("scanned", stats.RowsScanned).
			Msg("filtered source")
	}

	for k, s := range want {
		if !seen[k] {
			result.Unmatched = append(result.Unmatched, s)
		}
	}
	sort.Strings(result.Unmatched)

	result.Table.SortCanonical()
	result.Stats.RowsMatched = len(result.Table)

	if len(result.Table) == 0 {
		f.Logger.Warn().Strs("suburbs", f.Suburbs).Msg("no rows matched the requested suburbs")
	}
	return result, nil
}

// scan reads one source batch by batch. Rows from a source that fails part
// way through are discarded.
func (f *Filter) scan(ctx context.Context, src source.Source, batchSize int, normalize func(string) string, want map[string]string, seen map[string]bool) (types.Table, Stats, error) {
	var stats Stats

	r, closer, err := source.Decode(ctx, src, f.DateFormat)
	if err != nil {
		return nil, stats, err
	}
	defer closer.Close()

	var matched types.Table
	hits := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		batch, err := r.ReadBatch(batchSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}
		stats.Batches++
		for _, in := range batch {
			k := normalize(in.Suburb)
			if _, ok := want[k]; ok {
				matched = append(matched, in)
				hits[k] = true
			}
		}
	}

	for k := range hits {
		seen[k] = true
	}
	stats.RowsScanned = r.RowsRead()
	stats.RowsRejected = r.Rejected()
	return matched, stats, nil
}

// normalizer returns the function mapping a suburb name to its comparison
// form.
func (f *Filter) normalizer() func(string) string {
	if !f.FoldCase {
		return func(s string) string { return s }
	}
	fold := cases.Fold()
	return func(s string) string {
		return fold.String(norm.NFC.String(strings.TrimSpace(s)))
	}
}
