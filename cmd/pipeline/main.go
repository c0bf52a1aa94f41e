// Package main provides the CLI entry point for the ETL pipeline.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go-etl-pipeline/internal/api"
	"go-etl-pipeline/internal/config"
	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/pipeline"
	"go-etl-pipeline/internal/store"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitConfigError     = 2
	ExitRuntimeError    = 3
)

// errUsage marks errors caused by the job file, the config or the command
// line rather than by the data.
var errUsage = errors.New("usage")

// Build information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	dbPath     string
	outputDir  string
	verbose    bool
	quiet      bool

	cfg *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	stop()
	logger.Cleanup()
	if err != nil {
		printError(cmd.ErrOrStderr(), err)
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "pipeline",
		Short: "Run ETL pipelines with data quality validation",
		Long: `pipeline runs declarative ETL jobs: extract a dataset, clean and
enrich it, validate it against data quality rules and load it.

Loading is skipped when any ERROR-severity rule fails.

Exit codes:
  0 - Success
  1 - Validation failed (load skipped)
  2 - Invalid job file, config or arguments
  3 - Runtime error

Examples:
  pipeline check examples/transactions.yaml
  pipeline validate examples/customers.yaml
  pipeline run examples/transactions.yaml --db runs.db
  pipeline serve --config pipeline.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return errors.Mark(err, errUsage)
			}
			level := cfg.Log.Level
			switch {
			case o.verbose:
				level = "debug"
			case o.quiet:
				level = "error"
			}
			if err := logger.Initialize(cfg.Log.JSON, level); err != nil {
				return errors.Mark(errors.Wrap(err, "failed to initialize logger"), errUsage)
			}
			o.cfg = cfg
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Mark(err, errUsage)
	})

	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "Config file (toml, yaml or json)")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVarP(&o.quiet, "quiet", "q", false, "Only log errors")

	run := &cobra.Command{
		Use:   "run <job-file>",
		Short: "Run a pipeline job",
		Long: `Run a pipeline job end to end.

Without an output path the cleaned dataset is written to
<output.dir>/<run-id>/<job-name>.csv. Jobs with an output table, or runs
given --db, are recorded in the run database.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runJob(cmd, args[0], false)
		},
	}
	run.Flags().StringVar(&o.dbPath, "db", "", "Run database (default database.path from config)")
	run.Flags().StringVar(&o.outputDir, "output-dir", "", "Directory for default outputs (default output.dir from config)")

	validate := &cobra.Command{
		Use:   "validate <job-file>",
		Short: "Extract, transform and validate without loading",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runJob(cmd, args[0], true)
		},
	}

	check := &cobra.Command{
		Use:   "check <job-file>",
		Short: "Check a job file against the job schema",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := config.LoadJobFile(args[0])
			if err != nil {
				return errors.Mark(err, errUsage)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d transforms, %d rules)\n",
				args[0], len(spec.Transforms), len(spec.Rules))
			return nil
		},
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema job files are checked against",
		Args:  exactArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.OutOrStdout().Write(config.Schema())
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline API server",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.dbPath != "" {
				o.cfg.Database.Path = o.dbPath
			}
			return api.Serve(cmd.Context(), o.cfg, logger.ComponentLogger("api"))
		},
	}
	serve.Flags().StringVar(&o.dbPath, "db", "", "Run database (default database.path from config)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  exactArgs(0),
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}

	root.AddCommand(run, validate, check, schema, serve, versionCmd)
	return root
}

// runJob executes the job in path. dryRun stops after validation and
// writes nothing.
func (o *options) runJob(cmd *cobra.Command, path string, dryRun bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	spec, err := config.LoadJobFile(path)
	if err != nil {
		return errors.Mark(err, errUsage)
	}

	log := logger.ComponentLogger("pipeline")
	runID := uuid.NewString()
	deps := pipeline.Deps{
		Logger:         log,
		Workers:        o.cfg.Validation.Workers,
		ExtractTimeout: o.cfg.Pipeline.ExtractTimeout,
		LoadTimeout:    o.cfg.Pipeline.LoadTimeout,
		OutputDir:      o.cfg.Output.Dir,
		RunID:          runID,
	}
	if o.outputDir != "" {
		deps.OutputDir = o.outputDir
	}

	if dryRun {
		spec.Output = model.OutputSpec{Path: spec.Output.Path}
	} else if spec.Output.Table != "" || o.dbPath != "" {
		dbPath := o.cfg.Database.Path
		if o.dbPath != "" {
			dbPath = o.dbPath
		}
		st, err := store.Open(ctx, dbPath, log.Named("store"))
		if err != nil {
			return err
		}
		defer st.Close()
		deps.Store = st
	}

	executor, err := pipeline.NewExecutorFromSpec(spec, deps)
	if err != nil {
		return errors.Mark(err, errUsage)
	}
	if dryRun {
		executor.SkipLoad = true
		executor.Loader = nil
		executor.Recorder = nil
	}

	if !o.quiet {
		fmt.Fprintf(out, "Running %s (run %s)\n", spec.Name, runID)
	}
	res, err := executor.Run(ctx)
	if res != nil && res.Report != nil && !o.quiet {
		fmt.Fprint(out, pipeline.FormatReport(*res.Report))
	}
	if err != nil {
		return err
	}
	if !o.quiet {
		printSummary(out, res.Metadata, dryRun)
	}
	return nil
}

func printSummary(w io.Writer, md *model.PipelineMetadata, dryRun bool) {
	if dryRun {
		fmt.Fprintf(w, "✓ %s validated: %d records\n", md.PipelineName, md.RecordsExtracted-md.RecordsRemoved)
		return
	}
	fmt.Fprintf(w, "✓ %s succeeded: %d records loaded\n", md.PipelineName, md.RecordsLoaded)
	fmt.Fprintf(w, "  Extracted: %d\n", md.RecordsExtracted)
	if md.RecordsRemoved > 0 {
		fmt.Fprintf(w, "  Removed: %d\n", md.RecordsRemoved)
	}
	fmt.Fprintf(w, "  Duration: %v\n", md.Duration())
}

func printError(w io.Writer, err error) {
	var gate *pipeline.ValidationGateError
	if errors.As(err, &gate) {
		fmt.Fprintf(w, "✗ Validation failed with %d error(s); nothing was loaded\n", len(gate.Report.Errors))
		return
	}
	fmt.Fprintf(w, "✗ %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

func exitCode(err error) int {
	var gate *pipeline.ValidationGateError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &gate):
		return ExitValidationError
	case errors.Is(err, errUsage), errors.IsInvalidRequest(err):
		return ExitConfigError
	default:
		return ExitRuntimeError
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return errors.Mark(err, errUsage)
		}
		return nil
	}
}
