// Package cli implements the kass command line.
package cli

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jerrypnz/kass/internal/engine"
	"github.com/jerrypnz/kass/internal/logging"
	"github.com/jerrypnz/kass/internal/store"

	// Store backends register their endpoint schemes on import.
	_ "github.com/jerrypnz/kass/internal/store/cassandra"
	_ "github.com/jerrypnz/kass/internal/store/postgres"
	_ "github.com/jerrypnz/kass/internal/store/sqlstore"
)

// ClientFactory builds the store client for an endpoint.
type ClientFactory func(endpoint string, opts store.Options) (store.Client, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	ConfigPath string

	// NewClient allows overriding how store clients are built (for testing).
	// If nil, defaults to store.NewClient.
	NewClient ClientFactory

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	// logger is the run's logger once its config is resolved. Fatal
	// errors are reported through it so they honor --color.
	logger *zerolog.Logger
}

// Execute runs the command line in args and returns the process exit code.
// A fatal error is logged to stderr.
func Execute(opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommandWithOptions(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err != nil {
		logger := opts.errorLogger(stderr)
		logger.Error().Msg(err.Error())
	}
	return GetExitCode(err)
}

// NewRootCommand creates the root command for the kass CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kass",
		Short: "kass - fan one query out over many partitions",
		Long: `kass runs one parameterized query once for every combination of the
values given for its placeholders, with bounded concurrency, and streams
every result row to stdout as a JSON line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose diagnostics on stderr")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $KASS_CONFIG or ~/.config/kass/config.yaml)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

func (o *RootOptions) clientFactory() ClientFactory {
	if o.NewClient != nil {
		return o.NewClient
	}
	return store.NewClient
}

func (o *RootOptions) errorLogger(w io.Writer) zerolog.Logger {
	if o.logger != nil {
		return *o.logger
	}
	cfg := logging.DefaultConfig()
	cfg.Output = w
	return logging.New(cfg)
}

func (o *RootOptions) runIDGenerator() engine.RunIDGenerator {
	if o.RunIDs != nil {
		return o.RunIDs
	}
	return engine.UUIDv7Generator{}
}
