// Package cli provides the bq-ingest command line.
//
// Without a subcommand the binary speaks the Splunk modular input protocol,
// so it can be dropped into an app's bin/ directory as is.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudquery/plugin-sdk/v4/serve"
	"github.com/spf13/cobra"

	"github.com/infobloxopen/bq-ingest/internal/ingest"
	"github.com/infobloxopen/bq-ingest/internal/modinput"
	"github.com/infobloxopen/bq-ingest/plugin"
)

// ExitError carries a process exit code. The cause has already been
// logged when Err is nil.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Streams are the process's standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// NewRootCmd creates the root command.
func NewRootCmd(streams Streams) *cobra.Command {
	var scheme, validate bool

	rootCmd := &cobra.Command{
		Use:   "bq-ingest",
		Short: "Run warehouse queries and ship every row as an event",
		Long: `bq-ingest runs a query against Google BigQuery (or a SQL database) and
emits each result row as an event, remembering a checkpoint between runs.

Invoked without a subcommand it acts as a Splunk modular input: splunkd
writes the input definition to stdin and reads the event stream from stdout.`,
		Version: plugin.Version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := &modinput.App{
				Stdin:  streams.In,
				Stdout: streams.Out,
				Stderr: streams.Err,
			}
			var code int
			switch {
			case scheme:
				code = app.Scheme()
			case validate:
				code = app.ValidateArguments()
			default:
				code = app.Run(cmd.Context())
			}
			if code != ingest.ExitOK {
				return &ExitError{Code: code}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(streams.In)
	rootCmd.SetOut(streams.Out)
	rootCmd.SetErr(streams.Err)
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.Flags().BoolVar(&scheme, "scheme", false, "Print the modular input scheme")
	rootCmd.Flags().BoolVar(&validate, "validate-arguments", false, "Validate a modular input definition read from stdin")
	rootCmd.MarkFlagsMutuallyExclusive("scheme", "validate-arguments")

	rootCmd.AddCommand(NewRunCommand(streams))
	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "bq-ingest %s\n", plugin.Version)
			return err
		},
	}
}

// newServeCommand hands its arguments to the CloudQuery plugin server,
// which parses its own flags.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "serve",
		Short:              "Serve the CloudQuery source plugin over gRPC",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := serve.Plugin(plugin.Plugin(), serve.WithArgs(append([]string{"serve"}, args...)...))
			if err := p.Serve(cmd.Context()); err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("failed to serve plugin: %w", err)}
			}
			return nil
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, streams Streams) int {
	rootCmd := NewRootCmd(streams)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ingest.ExitOK
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintf(streams.Err, "Error: %v\n", exit.Err)
		}
		return exit.Code
	}
	// Flag and argument errors from cobra.
	fmt.Fprintf(streams.Err, "Error: %v\n", err)
	return ingest.ExitConfig
}
