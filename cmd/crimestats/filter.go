package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crimestats/crimestats/internal/config"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/filter"
	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/internal/source"
)

// filterReport is printed after a successful filter run.
type filterReport struct {
	Output    string       `json:"output"`
	Suburbs   []string     `json:"suburbs"`
	Stats     filter.Stats `json:"stats"`
	Unmatched []string     `json:"unmatched,omitempty"`
	Skipped   []string     `json:"skipped_files,omitempty"`
}

func (r filterReport) rows() [][]string {
	out := [][]string{
		{"Suburbs", strings.Join(r.Suburbs, ", ")},
		{"Files processed", strconv.Itoa(r.Stats.FilesProcessed)},
		{"Files skipped", strconv.Itoa(r.Stats.FilesSkipped)},
		{"Batches", strconv.Itoa(r.Stats.Batches)},
		{"Rows scanned", strconv.Itoa(r.Stats.RowsScanned)},
		{"Rows rejected", strconv.Itoa(r.Stats.RowsRejected)},
		{"Rows kept", strconv.Itoa(r.Stats.RowsMatched)},
		{"Output", r.Output},
	}
	if len(r.Unmatched) > 0 {
		out = append(out, []string{"No rows for", strings.Join(r.Unmatched, ", ")})
	}
	for _, f := range r.Skipped {
		out = append(out, []string{"Skipped", f})
	}
	return out
}

func (c *cli) newFilterCommand() *cobra.Command {
	var (
		inputs     []string
		output     string
		suburbs    []string
		foldCase   bool
		batchSize  int
		skipBad    bool
		dateLayout string
	)

	cmd := &cobra.Command{
		Use:   "filter -i INPUT... -o OUTPUT -s SUBURB...",
		Short: "Keep only the rows of selected suburbs",
		Long: `Filter streams each INPUT in batches and keeps the rows whose suburb is
one of the given suburbs. Suburbs default to filter.suburbs from the
configuration. The output is ordered by date then suburb; an output with
only a header is written when nothing matches.

A missing column aborts the run unless --skip-bad is given; empty inputs
are always skipped with a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if output == "" {
				return errors.NewConfigError(errors.CodeNoOutput, "no output path given (use -o)")
			}
			if len(suburbs) == 0 {
				suburbs = c.cfg.Filter.Suburbs
			}
			if err := c.ensureWorkDir(append([]string{output}, inputs...)...); err != nil {
				return err
			}

			df := c.dateFormat(dateLayout)
			resolver := c.resolver()
			out, err := sink.ForPath(ctx, output, sink.Options{
				DateFormat: df,
				Resolver:   resolver,
				WorkDir:    c.cfg.WorkDir(),
			})
			if err != nil {
				return err
			}
			sources, err := source.FromURIs(ctx, inputs, resolver, c.cfg.WorkDir())
			if err != nil {
				return err
			}

			f := &filter.Filter{
				Suburbs:    suburbs,
				Policy:     c.cfg.Filter.SourcePolicy,
				BatchSize:  c.cfg.Filter.BatchSize,
				DateFormat: df,
				FoldCase:   c.cfg.Filter.FoldCase || foldCase,
				Logger:     c.logger,
			}
			if skipBad {
				f.Policy = config.PolicySkip
			}
			if batchSize > 0 {
				f.BatchSize = batchSize
			}

			result, err := f.Run(ctx, sources)
			if err != nil {
				return err
			}
			for _, s := range result.Unmatched {
				c.logger.Warn().Str("suburb", s).Msg("no rows found for suburb")
			}
			if err := out.Write(ctx, result.Table); err != nil {
				return err
			}

			rep := filterReport{
				Output:    out.Name(),
				Suburbs:   suburbs,
				Stats:     result.Stats,
				Unmatched: result.Unmatched,
			}
			for _, se := range result.SourceErrors {
				rep.Skipped = append(rep.Skipped, se.Error())
			}
			return c.print(rep)
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "input paths or s3:// URIs")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path or s3:// URI")
	cmd.Flags().StringSliceVarP(&suburbs, "suburb", "s", nil, "suburbs to keep (repeatable)")
	cmd.Flags().BoolVar(&foldCase, "fold-case", false, "match suburbs ignoring case and surrounding space")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows read per batch (default from config)")
	cmd.Flags().BoolVar(&skipBad, "skip-bad", false, "skip inputs with missing columns instead of aborting")
	cmd.Flags().StringVar(&dateLayout, "date-layout", "", "Go time layout of the Reported Date column")
	return cmd
}
