package client

import (
	"context"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cloudquery/plugin-sdk/v4/message"
	"github.com/cloudquery/plugin-sdk/v4/plugin"
	"github.com/cloudquery/plugin-sdk/v4/schema"
	"github.com/cloudquery/plugin-sdk/v4/state"
	"github.com/google/uuid"

	"github.com/infobloxopen/bq-ingest/internal/ingest"
	"github.com/infobloxopen/bq-ingest/internal/sink"
)

// syncEvents emits the table migration, then runs the input with the state
// backend as checkpoint store and streams rows as record batches.
func (c *Client) syncEvents(ctx context.Context, options plugin.SyncOptions, res chan<- message.SyncMessage) error {
	tables, err := c.Tables(ctx, plugin.TableOptions{
		Tables:              options.Tables,
		SkipTables:          options.SkipTables,
		SkipDependentTables: options.SkipDependentTables,
	})
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		c.logger.Info().Msg("events table filtered out, nothing to sync")
		return nil
	}
	table := tables[0]

	stateClient, err := state.NewConnectedClient(ctx, options.BackendOptions)
	if err != nil {
		return fmt.Errorf("failed to initialize state backend: %w", err)
	}
	defer func() {
		if err := stateClient.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close state client")
		}
	}()

	res <- &message.SyncMigrateTable{Table: table}

	runID := uuid.NewString()
	records := newRecordSink(table, c.spec.Name, runID, c.spec.RowsPerRecord, res)
	runner := &ingest.Runner{
		Logger:  c.logger,
		Querier: c.querier,
		Store:   &StateStore{Client: stateClient},
		Sink:    records,
		RunID:   func() string { return runID },
	}
	result, err := runner.Run(ctx, c.spec.ingestSpec())
	if err != nil {
		return fmt.Errorf("failed to sync table %s: %w", table.Name, err)
	}

	if err := stateClient.Flush(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to flush state backend")
	}

	c.logger.Info().
		Str("table", table.Name).
		Int("rows", result.Rows).
		Int("records", records.sent).
		Msg("sync complete")
	return nil
}

// recordSink buffers events into arrow record batches of the events table
// and sends one SyncInsert per batch.
type recordSink struct {
	res     chan<- message.SyncMessage
	bldr    *array.RecordBuilder
	input   string
	runID   string
	batch   int
	pending int
	sent    int
	closed  bool
}

func newRecordSink(table *schema.Table, input, runID string, batch int, res chan<- message.SyncMessage) *recordSink {
	if batch < 1 {
		batch = 1
	}
	return &recordSink{
		res:   res,
		bldr:  array.NewRecordBuilder(memory.DefaultAllocator, table.ToArrowSchema()),
		input: input,
		runID: runID,
		batch: batch,
	}
}

func (r *recordSink) Write(ctx context.Context, e sink.Event) error {
	if r.closed {
		return &sink.Error{Sink: "records", Err: fmt.Errorf("sink already closed")}
	}
	micros := int64(math.Round(e.Time * 1e6))
	r.bldr.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(micros))
	r.bldr.Field(1).(*array.StringBuilder).Append(r.input)
	r.bldr.Field(2).(*array.StringBuilder).Append(r.runID)
	r.bldr.Field(3).(*array.StringBuilder).Append(e.Data)
	r.pending++
	if r.pending >= r.batch {
		return r.flush(ctx)
	}
	return nil
}

func (r *recordSink) flush(ctx context.Context) error {
	if r.pending == 0 {
		return nil
	}
	rec := r.bldr.NewRecordBatch()
	r.pending = 0
	select {
	case r.res <- &message.SyncInsert{Record: rec}:
		r.sent++
		return nil
	case <-ctx.Done():
		rec.Release()
		return &sink.Error{Sink: "records", Err: ctx.Err()}
	}
}

func (r *recordSink) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	defer r.bldr.Release()
	return r.flush(ctx)
}
