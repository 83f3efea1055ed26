package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jerrypnz/kass/internal/combo"
	"github.com/jerrypnz/kass/internal/config"
	"github.com/jerrypnz/kass/internal/emit"
	"github.com/jerrypnz/kass/internal/engine"
	"github.com/jerrypnz/kass/internal/logging"
	"github.com/jerrypnz/kass/internal/params"
	"github.com/jerrypnz/kass/internal/query"
	"github.com/jerrypnz/kass/internal/store"
)

// RunOptions holds flags for the run command. Zero values are placeholders;
// only flags set on the command line override the config file.
type RunOptions struct {
	*RootOptions

	Host           string
	Keyspace       string
	Parallelism    int
	Color          string
	Pretty         bool
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Consistency    string
	OnError        string
	FailOnError    bool
	DryRun         bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "run [flags] <query-template> [param-spec]...",
		Short: "Run a query once per parameter combination",
		Long: `Run a query template once for every combination of the param-specs.

Each param-spec fills one placeholder, in order. A param-spec is a list of
literal values or a range:

  nz,us,au                        list, values used verbatim
  2019-12-01..2019-12-31/1d       dates, inclusive, step d, w or m
  2019-09-01..2019-12-01/1m/%Y%m  dates with a strftime output format
  2020-01-01T00:00:00..2020-01-01T12:00:00/30M
                                  date-times, step d, w, m, H, M or S
  1..100/10/smallint              integers bound as int, smallint,
                                  tinyint or bigint

The first param-spec varies slowest. Rows are written to stdout as one JSON
object per line, in completion order. Failed queries are reported on stderr
and do not stop the others. Put -- before a param-spec starting with "-".

Example:
  kass run --host db1,db2 -k metrics \
    'SELECT * FROM events WHERE day = ? AND region = ?' \
    2019-12-01..2019-12-31/1d nz,us,au,cn
  kass run --host sqlite:///tmp/events.db --pretty \
    'SELECT * FROM events WHERE id = ?' 1..10`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0], args[1:])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Host, "host", defaults.Host, "store endpoint: host[:port][,host...] or scheme://...")
	f.StringVarP(&opts.Keyspace, "keyspace", "k", defaults.Keyspace, "default cassandra keyspace")
	f.IntVarP(&opts.Parallelism, "parallelism", "p", defaults.Parallelism, "maximum number of queries in flight")
	f.StringVar(&opts.Color, "color", defaults.Color, "colorize diagnostics (auto|on|off)")
	f.BoolVar(&opts.Pretty, "pretty", defaults.Pretty, "indent JSON rows")
	f.DurationVar(&opts.Timeout, "timeout", defaults.Timeout, "per-query timeout")
	f.DurationVar(&opts.ConnectTimeout, "connect-timeout", defaults.ConnectTimeout, "connection timeout")
	f.StringVar(&opts.Consistency, "consistency", defaults.Consistency, "cassandra consistency level")
	f.StringVar(&opts.OnError, "on-error", defaults.OnError, "what a failed query does to the run (continue|abort)")
	f.BoolVar(&opts.FailOnError, "fail-on-error", defaults.FailOnError, "exit 1 if any query failed")
	f.BoolVar(&opts.DryRun, "dry-run", false, "print the bound queries instead of running them")

	return cmd
}

// resolveConfig layers the config file and explicitly set flags over the
// defaults.
func resolveConfig(cmd *cobra.Command, opts *RunOptions) (config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = opts.Host
	}
	if f.Changed("keyspace") {
		cfg.Keyspace = opts.Keyspace
	}
	if f.Changed("parallelism") {
		cfg.Parallelism = opts.Parallelism
	}
	if f.Changed("color") {
		cfg.Color = opts.Color
	}
	if f.Changed("pretty") {
		cfg.Pretty = opts.Pretty
	}
	if f.Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	if f.Changed("connect-timeout") {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}
	if f.Changed("consistency") {
		cfg.Consistency = opts.Consistency
	}
	if f.Changed("on-error") {
		cfg.OnError = opts.OnError
	}
	if f.Changed("fail-on-error") {
		cfg.FailOnError = opts.FailOnError
	}

	return cfg, cfg.Validate()
}

func runQuery(cmd *cobra.Command, opts *RunOptions, text string, specArgs []string) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.New(logging.Config{
		Level:  level,
		Color:  logging.ColorMode(cfg.Color),
		Output: cmd.ErrOrStderr(),
	})
	opts.logger = &logger

	// Everything that can be rejected up front is checked before a
	// connection is made.
	specs, err := params.ParseAll(specArgs)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot expand param-specs", err)
	}

	client, err := opts.clientFactory()(cfg.Host, store.Options{
		Parallelism:    cfg.Parallelism,
		Timeout:        cfg.Timeout,
		ConnectTimeout: cfg.ConnectTimeout,
		Consistency:    cfg.Consistency,
		Keyspace:       cfg.Keyspace,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot connect", err)
	}

	tmpl, err := query.NewTemplate(text, client.Dialect())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query template", err)
	}
	if err := query.CheckArity(tmpl, len(specs)); err != nil {
		return WrapExitError(ExitCommandError, "invalid query template", err)
	}

	gen, err := combo.New(params.Sequences(specs))
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot expand param-specs", err)
	}

	logger.Debug().
		Str("store", client.Name()).
		Str("host", cfg.Host).
		Str("params", params.Describe(specs)).
		Int64("combinations", gen.Len()).
		Msg("run prepared")

	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()
	emitter := emit.New(out, emit.WithPretty(cfg.Pretty), emit.WithLogger(logger))

	if gen.Len() == 0 {
		logger.Debug().Msg("a param-spec is empty, nothing to run")
		return nil
	}

	if opts.DryRun {
		return planQueries(emitter, tmpl, gen)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := client.Connect(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot connect", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("error closing session")
		}
	}()

	policy, _ := engine.ParseFailurePolicy(cfg.OnError)
	eng := engine.New(session, tmpl, emitter,
		engine.WithParallelism(cfg.Parallelism),
		engine.WithFailurePolicy(policy),
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(opts.runIDGenerator()),
	)

	summary, err := eng.Run(ctx, gen.All())
	if err != nil {
		return WrapExitError(ExitFailure, "run did not finish", err)
	}

	logger.Debug().
		Int64("rows_written", emitter.Rows()).
		Msg("output complete")

	return reportSummary(logger, cfg, summary)
}

// planQueries writes every bound query instead of executing it.
func planQueries(emitter *emit.Emitter, tmpl query.Template, gen *combo.Generator) error {
	for index, c := range gen.All() {
		bq, err := query.Bind(tmpl, index, c)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid query template", err)
		}
		if err := emitter.Plan(bq); err != nil {
			return WrapExitError(ExitFailure, "cannot write plan", err)
		}
	}
	return nil
}

func reportSummary(logger zerolog.Logger, cfg config.Config, s engine.Summary) error {
	if s.Failed == 0 {
		return nil
	}

	ev := logger.Warn().
		Int64("failed", s.Failed).
		Int64("tasks", s.Tasks)
	if s.Aborted {
		ev = ev.Int64("skipped", s.Skipped).Bool("aborted", true)
	}
	ev.Msg("some queries failed")

	if cfg.FailOnError {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d queries failed", s.Failed, s.Tasks))
	}
	return nil
}
