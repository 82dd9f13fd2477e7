package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/config"
	"github.com/infobloxopen/bq-ingest/internal/ingest"
	"github.com/infobloxopen/bq-ingest/internal/projector"
)

// NewRunCommand runs one input described by a config file, env vars and
// flags.
func NewRunCommand(streams Streams) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one input outside of splunkd",
		Long: `Run executes the configured query once, writes every row to the
configured sink and advances the checkpoint.

Configuration is read from --config (YAML), then BQ_INGEST_* environment
variables (BQ_INGEST_SINK__HEC__TOKEN sets sink.hec.token), then flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return &ExitError{Code: ingest.ExitConfig, Err: err}
			}
			logger, err := newLogger(streams.Err, cfg.LogLevel)
			if err != nil {
				return &ExitError{Code: ingest.ExitConfig, Err: err}
			}
			logger = logger.With().Str("input", cfg.Input.Name).Logger()
			ctx := cmd.Context()
			runID := uuid.NewString()

			querier, err := openQuerier(ctx, cfg.Warehouse)
			if err != nil {
				logger.Error().Err(err).Str("driver", cfg.Warehouse.Driver).Msg("failed to create warehouse client")
				return &ExitError{Code: ingest.ExitCode(err)}
			}
			defer querier.Close()

			store, closeStore, err := openStore(cfg.Checkpoint)
			if err != nil {
				logger.Error().Err(err).Msg("failed to open checkpoint store")
				return &ExitError{Code: ingest.ExitCode(err)}
			}
			defer func() {
				if err := closeStore(); err != nil {
					logger.Warn().Err(err).Msg("failed to close checkpoint store")
				}
			}()

			w, err := openSink(ctx, cfg, streams.Out, runID)
			if err != nil {
				logger.Error().Err(err).Str("sink", cfg.Sink.Type).Msg("failed to open sink")
				return &ExitError{Code: ingest.ExitCode(err)}
			}

			runner := &ingest.Runner{
				Logger:  logger,
				Querier: querier,
				Store:   store,
				Sink:    w,
				RunID:   func() string { return runID },
			}
			_, err = runner.Run(ctx, ingest.Spec{
				Input:            cfg.Input.Name,
				Query:            cfg.Input.Query,
				TimeColumn:       cfg.Input.TimeField,
				CheckpointColumn: cfg.Input.CheckpointField,
				CheckpointStart:  cfg.Input.CheckpointStart,
				Excluded:         cfg.Input.Blacklist,
				Format:           projector.Format(cfg.Input.Format),
				Order:            checkpoint.Order(cfg.Input.Order),
				Bind:             cfg.Input.Binding,
			})
			if err != nil {
				return &ExitError{Code: ingest.ExitCode(err)}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.String("log-level", "", "Log level (debug|info|warn|error)")
	f.String("name", "", "Input name, keys the checkpoint")
	f.String("query", "", "Query to run, may reference %checkpoint%")
	f.String("time-field", "", "Column holding the event time")
	f.String("checkpoint-field", "", "Column whose largest value becomes the checkpoint")
	f.String("checkpoint-start", "", "Checkpoint used before one has been saved")
	f.StringSlice("blacklist", nil, "Columns left out of structured events")
	f.String("format", "", "Event format (json|tsv)")
	f.String("checkpoint-order", "", "Checkpoint comparison (string|numeric|time)")
	f.Bool("checkpoint-binding", false, "Bind the checkpoint as a query parameter")
	f.String("driver", "", "Warehouse driver (bigquery|postgres|mysql|sqlite)")
	f.String("dsn", "", "Connection string for the SQL drivers")
	f.String("project-id", "", "BigQuery project running the jobs")
	f.String("location", "", "BigQuery job location")
	f.String("credentials-file", "", "Service account JSON file")
	f.String("store", "", "Checkpoint store (file|redis)")
	f.String("checkpoint-dir", "", "Directory of the file checkpoint store")
	f.String("sink", "", "Event sink (splunk|hec|kafka|rabbitmq|s3|discard)")

	return cmd
}
