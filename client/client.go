package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cloudquery/plugin-sdk/v4/message"
	"github.com/cloudquery/plugin-sdk/v4/plugin"
	"github.com/cloudquery/plugin-sdk/v4/schema"
	"github.com/rs/zerolog"

	"github.com/infobloxopen/bq-ingest/internal/naming"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
	"github.com/infobloxopen/bq-ingest/internal/warehouse/bq"
)

// Columns of the events table, in record order.
const (
	ColumnEventTime = "event_time"
	ColumnInput     = "input"
	ColumnRunID     = "run_id"
	ColumnPayload   = "payload"
)

// Client implements the CloudQuery SourceClient interface for one query.
type Client struct {
	plugin.UnimplementedDestination

	logger  zerolog.Logger
	spec    Spec
	querier warehouse.Querier
}

// Configure is the NewClientFunc that the plugin SDK calls to create a Client.
func Configure(ctx context.Context, logger zerolog.Logger, specBytes []byte, opts plugin.NewClientOptions) (plugin.Client, error) {
	var spec Spec
	if len(specBytes) > 0 {
		if err := json.Unmarshal(specBytes, &spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
		}
	}
	spec.SetDefaults()
	if opts.NoConnection {
		return &Client{logger: logger, spec: spec}, nil
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}

	q, err := bq.New(ctx, bq.Config{
		ProjectID:       spec.ProjectID,
		CredentialsJSON: []byte(spec.ServiceAccount),
		Location:        spec.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}

	return &Client{
		logger:  logger.With().Str("input", spec.Name).Logger(),
		spec:    spec,
		querier: q,
	}, nil
}

// ID returns a unique identifier for this client instance.
func (c *Client) ID() string {
	return "bq-ingest:" + c.spec.Name
}

// eventsTable describes the single table an input syncs into.
func eventsTable(name string) *schema.Table {
	return &schema.Table{
		Name:        naming.TableName(name),
		Description: "Rows returned by the " + name + " query, one event per row",
		Columns: schema.ColumnList{
			{Name: ColumnEventTime, Type: arrow.FixedWidthTypes.Timestamp_us, NotNull: true},
			{Name: ColumnInput, Type: arrow.BinaryTypes.String, NotNull: true},
			{Name: ColumnRunID, Type: arrow.BinaryTypes.String, NotNull: true},
			{Name: ColumnPayload, Type: arrow.BinaryTypes.String},
		},
		IsIncremental: true,
	}
}

// Tables returns the events table unless it is filtered out.
func (c *Client) Tables(ctx context.Context, options plugin.TableOptions) (schema.Tables, error) {
	all := schema.Tables{eventsTable(c.spec.Name)}
	filtered, err := all.FilterDfs(options.Tables, options.SkipTables, options.SkipDependentTables)
	if err != nil {
		return nil, fmt.Errorf("failed to filter tables: %w", err)
	}
	return filtered, nil
}

// Sync runs the query and streams its rows to the destination.
func (c *Client) Sync(ctx context.Context, options plugin.SyncOptions, res chan<- message.SyncMessage) error {
	return c.syncEvents(ctx, options, res)
}

// Close releases resources held by the client.
func (c *Client) Close(ctx context.Context) error {
	if c.querier == nil {
		return nil
	}
	return c.querier.Close()
}
