package main

import (
	"github.com/spf13/cobra"

	"github.com/crimestats/crimestats/internal/app"
)

func (c *cli) newServeCommand() *cobra.Command {
	var addr, data string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard data API",
		Long: `Serve answers the dashboard's data queries (option lists, summaries,
chart series, CSV and XLSX exports) over the dataset at --data, which may be
a local CSV, a SQLite file written by merge, or an s3:// URI. The dataset
is reloaded when the file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.HTTP.Addr = addr
			}
			if data != "" {
				c.cfg.HTTP.DataPath = data
			}

			a, err := app.New(c.cfg, c.logger)
			if err != nil {
				return err
			}
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			return a.WaitForShutdown(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8501)")
	cmd.Flags().StringVar(&data, "data", "", "dataset path or s3:// URI")
	return cmd
}
