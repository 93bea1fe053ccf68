package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crimestats/crimestats/internal/dataset"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/source"
)

// summaryReport is the headline view of one dataset selection.
type summaryReport struct {
	Input     string            `json:"input"`
	Selection dataset.Selection `json:"selection"`
	Rows      int               `json:"rows"`
	dataset.Summary `yaml:",inline"`
	Suburbs []string `json:"suburbs"`
}

func (r summaryReport) rows() [][]string {
	return [][]string{
		{"Input", r.Input},
		{"Rows", strconv.Itoa(r.Rows)},
		{"Total offences", strconv.FormatInt(r.TotalOffences, 10)},
		{"Unique offence types", strconv.Itoa(r.UniqueOffenceTypes)},
		{"Months", strconv.Itoa(r.Months)},
		{"Suburbs", strings.Join(r.Suburbs, ", ")},
	}
}

func (c *cli) newSummaryCommand() *cobra.Command {
	var sel dataset.Selection

	cmd := &cobra.Command{
		Use:   "summary INPUT",
		Short: "Print headline figures for a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.NewConfigError(errors.CodeNoInputs, "no input file given")
			}
			ctx := cmd.Context()
			if err := c.ensureWorkDir(args[0]); err != nil {
				return err
			}
			sources, err := source.FromURIs(ctx, args, c.resolver(), c.cfg.WorkDir())
			if err != nil {
				return err
			}
			d, err := dataset.Load(ctx, sources[0], c.dateFormat(""))
			if err != nil {
				return err
			}

			selected := d.Filter(sel)
			return c.print(summaryReport{
				Input:     args[0],
				Selection: sel,
				Rows:      selected.Len(),
				Summary:   selected.Summary(),
				Suburbs:   selected.Suburbs(),
			})
		},
	}

	cmd.Flags().StringVar(&sel.Suburb, "suburb", "", "restrict to one suburb")
	cmd.Flags().StringVar(&sel.Level1, "level1", "", "restrict to one offence level 1 description")
	cmd.Flags().StringVar(&sel.Level2, "level2", "", "restrict to one offence level 2 description")
	cmd.Flags().StringVar(&sel.Level3, "level3", "", "restrict to one offence level 3 description")
	return cmd
}
