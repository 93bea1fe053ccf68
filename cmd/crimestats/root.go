package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/crimestats/crimestats/internal/config"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/logging"
	"github.com/crimestats/crimestats/internal/storage"
	"github.com/crimestats/crimestats/pkg/types"
)

// envFiles are loaded, when present, before configuration is read. Variables
// already set in the environment win.
var envFiles = []string{".env.local", ".env"}

// cli holds state shared by every subcommand.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string
	logFormat  string
	format     string
	verbose    bool
	quiet      bool

	cfg    *config.Config
	logger zerolog.Logger
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr, logger: zerolog.Nop()}
	root := c.newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if errors.IsConfig(err) && cmd != nil {
		fmt.Fprintln(stderr)
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return 1
}

func (c *cli) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "crimestats",
		Short: "Merge, filter and serve crime incident extracts",
		Long: `crimestats turns monthly crime incident extracts into one canonical
dataset and serves the dashboard data queries over it.

  merge    combine extracts, dropping exact duplicates and summing counts of
           rows that share date, suburb, postcode and offence levels
  filter   keep only the rows of selected suburbs
  summary  print headline figures for a dataset
  serve    run the dashboard data API`,
		Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
		PersistentPreRunE: c.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "configuration file (YAML or JSON)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off")
	flags.StringVar(&c.logFormat, "log-format", "", "log format: json, console, auto")
	flags.StringVar(&c.format, "format", "", "report format: table, json, yaml (default table on a terminal, json otherwise)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")

	root.SetVersionTemplate("crimestats {{.Version}}\n")

	root.AddCommand(
		c.newMergeCommand(),
		c.newFilterCommand(),
		c.newSummaryCommand(),
		c.newServeCommand(),
	)
	return root
}

// setup loads .env files and configuration, then builds the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig,
				fmt.Sprintf("cannot load %s", f), err)
		}
	}

	cfg := config.DefaultConfig()
	if c.configFile != "" {
		loaded, err := config.LoadFromFile(c.configFile)
		if err != nil {
			return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "cannot load configuration", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	switch {
	case c.logLevel != "":
		cfg.Log.Level = c.logLevel
	case c.verbose:
		cfg.Log.Level = "debug"
	case c.quiet:
		cfg.Log.Level = "warn"
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "invalid configuration", err)
	}
	if _, err := parseFormat(c.format); err != nil {
		return errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "invalid --format", err)
	}

	c.cfg = cfg
	c.logger = logging.New(cfg.Log)
	cmd.SetContext(logging.WithContext(cmd.Context(), c.logger))
	return nil
}

// dateFormat returns the configured date layout, or override when set.
func (c *cli) dateFormat(override string) types.DateFormat {
	if override != "" {
		return types.NewDateFormat(override)
	}
	return types.NewDateFormat(c.cfg.DateLayout)
}

// resolver maps s3:// arguments onto the configured object storage.
func (c *cli) resolver() *storage.Resolver {
	return storage.NewResolver(c.cfg.Storage.Type, c.cfg.Storage.Path, storage.S3Config{
		Region:       c.cfg.Storage.S3.Region,
		Endpoint:     c.cfg.Storage.S3.Endpoint,
		UsePathStyle: c.cfg.Storage.S3.UsePathStyle,
	})
}

// ensureWorkDir creates the staging directory when any path is remote.
func (c *cli) ensureWorkDir(paths ...string) error {
	for _, p := range paths {
		if storage.IsRemote(p) {
			if err := os.MkdirAll(c.cfg.WorkDir(), 0755); err != nil {
				return errors.Wrap(errors.ErrCategoryStorage, errors.CodeWriteFailed, "cannot create work directory", err)
			}
			return nil
		}
	}
	return nil
}
