package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crimestats/crimestats/internal/config"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/merge"
	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/internal/source"
)

// mergeReport is printed after a successful merge.
type mergeReport struct {
	Output       string      `json:"output"`
	Fingerprint  string      `json:"fingerprint"`
	Stats        merge.Stats `json:"stats"`
	RowsMerged   int         `json:"rows_merged"`
	SkippedFiles []string    `json:"skipped_files,omitempty"`
}

func (r mergeReport) rows() [][]string {
	out := [][]string{
		{"Files processed", strconv.Itoa(r.Stats.FilesProcessed)},
		{"Files skipped", strconv.Itoa(r.Stats.FilesSkipped)},
		{"Rows merged", strconv.Itoa(r.RowsMerged)},
		{"Rows rejected", strconv.Itoa(r.Stats.RowsRejected)},
		{"Exact duplicates removed", strconv.Itoa(r.Stats.ExactDuplicates)},
		{"Logical duplicates aggregated", strconv.Itoa(r.Stats.LogicalDuplicates)},
		{"Final rows", strconv.Itoa(r.Stats.FinalRows)},
		{"Total offences", strconv.FormatInt(r.Stats.TotalCount, 10)},
		{"Fingerprint", r.Fingerprint},
		{"Output", r.Output},
	}
	for _, f := range r.SkippedFiles {
		out = append(out, []string{"Skipped", f})
	}
	return out
}

func (c *cli) newMergeCommand() *cobra.Command {
	var (
		output      string
		failFast    bool
		dateLayout  string
		verify      bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "merge INPUT... -o OUTPUT",
		Short: "Merge extracts into one deduplicated dataset",
		Long: `Merge reads every INPUT (local path or s3://bucket/key, .sz for snappy),
removes exact duplicate rows, sums the counts of rows sharing date, suburb,
postcode and offence levels, and writes the result ordered by date then
suburb. OUTPUT may be .csv, .csv.sz, .xlsx, .db/.sqlite or an s3:// URI.

Unreadable or malformed inputs are skipped unless --fail-fast is given.
Nothing is written when no rows survive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.NewConfigError(errors.CodeNoInputs, "no input files given")
			}
			if output == "" {
				return errors.NewConfigError(errors.CodeNoOutput, "no output path given (use -o)")
			}

			ctx := cmd.Context()
			if err := c.ensureWorkDir(append([]string{output}, args...)...); err != nil {
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

			sources, err := source.FromURIs(ctx, args, resolver, c.cfg.WorkDir())
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = c.cfg.Merge.DownloadConcurrency
			}
			if _, err := source.Prefetch(ctx, sources, concurrency, c.cfg.WorkDir()); err != nil {
				return err
			}

			opts := merge.DefaultOptions()
			opts.Policy = c.cfg.Merge.SourcePolicy
			if failFast {
				opts.Policy = config.PolicyFailFast
			}
			opts.DateFormat = df
			opts.Verify = c.cfg.Merge.Verify
			if cmd.Flags().Changed("verify") {
				opts.Verify = verify
			}
			opts.Logger = c.logger

			result, err := merge.New(opts).Merge(ctx, sources)
			if err != nil {
				return err
			}
			if err := out.Write(ctx, result.Table); err != nil {
				return err
			}
			c.logger.Info().Str("output", out.Name()).Int("rows", len(result.Table)).Msg("wrote merged dataset")

			rep := mergeReport{
				Output:      out.Name(),
				Fingerprint: result.Table.Fingerprint(),
				Stats:       result.Stats,
				RowsMerged:  result.Stats.RowsMerged(),
			}
			for _, se := range result.SourceErrors {
				rep.SkippedFiles = append(rep.SkippedFiles, se.Error())
			}
			return c.print(rep)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path or s3:// URI")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort on the first unreadable or malformed input")
	cmd.Flags().StringVar(&dateLayout, "date-layout", "", "Go time layout of the Reported Date column (default from config, 02/01/2006)")
	cmd.Flags().BoolVar(&verify, "verify", true, "re-check the output invariants before writing")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel downloads for s3:// inputs")
	return cmd
}
