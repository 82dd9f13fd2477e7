// Package ingest runs one input: load the checkpoint, query the warehouse,
// project every row into the sink and save the advanced checkpoint.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/projector"
	"github.com/infobloxopen/bq-ingest/internal/sink"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

// Spec describes one input. It does not change during a run.
type Spec struct {
	// Input identifies the input and keys its checkpoint.
	Input string
	// Query may reference checkpoint.Placeholder.
	Query            string
	TimeColumn       string
	CheckpointColumn string
	// CheckpointStart is used until a checkpoint has been saved.
	CheckpointStart string
	Excluded        []string
	Format          projector.Format
	Order           checkpoint.Order
	// Bind passes the checkpoint as a query parameter instead of inlining it.
	Bind bool
}

// Validate checks the fields a run cannot default.
func (s Spec) Validate() error {
	if s.Input == "" {
		return errors.New("input name is required")
	}
	if s.Query == "" {
		return errors.New("query is required")
	}
	if _, err := projector.ParseFormat(string(s.Format)); err != nil {
		return err
	}
	if _, err := checkpoint.ParseOrder(string(s.Order)); err != nil {
		return err
	}
	return nil
}

// Result summarizes a run.
type Result struct {
	RunID string
	// Query is the statement submitted to the warehouse.
	Query string
	Rows  int
	Pages int
	// Checkpoint is the value after the run. Saved reports whether it was
	// written back.
	Checkpoint string
	Saved      bool
}

// Runner executes specs against one warehouse, checkpoint store and sink.
type Runner struct {
	Logger  zerolog.Logger
	Querier warehouse.Querier
	Store   checkpoint.Store
	Sink    sink.Writer
	// Now defaults to time.Now.
	Now func() time.Time
	// RunID defaults to a random UUID.
	RunID func() string
}

// Run executes spec once. The checkpoint is only saved after every row
// reached the sink and the sink closed cleanly.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	res := Result{RunID: r.newRunID()}
	logger := r.Logger.With().Str("input", spec.Input).Str("run_id", res.RunID).Logger()

	if err := spec.Validate(); err != nil {
		err = &ConfigError{Err: err}
		logger.Error().Err(err).Msg("invalid input")
		return res, err
	}
	order, _ := checkpoint.ParseOrder(string(spec.Order))
	format, _ := projector.ParseFormat(string(spec.Format))

	start := spec.CheckpointStart
	if start == "" {
		start = checkpoint.DefaultStart
	}
	loaded := start
	// The store is only used by inputs with a checkpoint column.
	if spec.CheckpointColumn != "" {
		release, err := r.lock(ctx, logger, spec.Input)
		if err != nil {
			return res, err
		}
		defer release()

		loaded, err = r.Store.Load(ctx, spec.Input, start)
		if err != nil {
			logger.Error().Err(err).Msg("failed to load checkpoint")
			return res, &CheckpointError{Op: "load", Err: err}
		}
	}

	query := warehouse.Query{SQL: spec.Query}
	if checkpoint.HasPlaceholder(spec.Query) {
		switch {
		case spec.CheckpointColumn == "":
			logger.Warn().Msg("query references " + checkpoint.Placeholder + " but no checkpoint column is configured")
		case spec.Bind:
			query.Bind = &loaded
		default:
			query.SQL = checkpoint.Substitute(spec.Query, loaded)
		}
	}
	res.Query = query.SQL
	res.Checkpoint = loaded
	if spec.TimeColumn == "" {
		logger.Warn().Msg("no time column configured, events carry the query time")
	}
	if spec.CheckpointColumn == "" {
		logger.Warn().Msg("no checkpoint column configured, every run fetches the full result")
	}

	logger.Info().Str("query", query.SQL).Str("checkpoint", loaded).Bool("bind", query.Bind != nil).Msg("running query")
	queryTime := r.now()

	rs, err := r.Querier.Query(ctx, query)
	if err != nil {
		logQueryError(logger, err)
		return res, fmt.Errorf("failed to run query: %w", err)
	}
	defer rs.Close()

	p, err := projector.New(rs.Schema(), projector.Options{
		TimeColumn:       spec.TimeColumn,
		CheckpointColumn: spec.CheckpointColumn,
		Excluded:         spec.Excluded,
		Format:           format,
		Order:            order,
	}, loaded, queryTime)
	if err != nil {
		var ce *projector.ColumnError
		if errors.As(err, &ce) {
			logger.Error().Err(err).Str("column", ce.Column).Str("type", ce.Type).Msg("query results do not match input configuration")
		}
		return res, err
	}

	closed := false
	defer func() {
		if !closed {
			if err := r.Sink.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to close sink after error")
			}
		}
	}()

	for {
		row, err := rs.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logQueryError(logger, err)
			return res, fmt.Errorf("failed to read query results: %w", err)
		}
		if page := rs.Page(); page != res.Pages {
			res.Pages = page
			logger.Debug().Int("page", page).Str("checkpoint", p.Tracker().Current()).Msg("processing page")
		}

		ev, err := p.Project(row)
		if err != nil {
			logger.Error().Err(err).Int("row", res.Rows).Msg("failed to project row")
			return res, err
		}
		if err := r.Sink.Write(ctx, ev); err != nil {
			err = asSinkError(err)
			logger.Error().Err(err).Int("row", res.Rows).Msg("failed to write event")
			return res, err
		}
		res.Rows++
	}

	closed = true
	if err := r.Sink.Close(ctx); err != nil {
		err = asSinkError(err)
		logger.Error().Err(err).Msg("failed to close sink")
		return res, err
	}

	tracker := p.Tracker()
	res.Checkpoint = tracker.Current()
	if tracker.Changed() {
		if err := r.Store.Save(ctx, spec.Input, tracker.Current()); err != nil {
			logger.Error().Err(err).Str("checkpoint", tracker.Current()).Msg("failed to save checkpoint")
			return res, &CheckpointError{Op: "save", Err: err}
		}
		res.Saved = true
	}

	logger.Info().
		Int("rows", res.Rows).
		Int("pages", res.Pages).
		Str("checkpoint", res.Checkpoint).
		Bool("saved", res.Saved).
		Msg("run complete")
	return res, nil
}

// lock takes the store's lock for input when the store supports locking.
func (r *Runner) lock(ctx context.Context, logger zerolog.Logger, input string) (func(), error) {
	locker, ok := r.Store.(checkpoint.Locker)
	if !ok {
		return func() {}, nil
	}
	release, err := locker.Lock(ctx, input)
	if err != nil {
		logger.Error().Err(err).Msg("failed to lock checkpoint")
		return nil, &CheckpointError{Op: "lock", Err: err}
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to release checkpoint lock")
		}
	}, nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) newRunID() string {
	if r.RunID != nil {
		return r.RunID()
	}
	return uuid.NewString()
}

func logQueryError(logger zerolog.Logger, err error) {
	var mq *warehouse.MalformedQueryError
	if errors.As(err, &mq) {
		logger.Error().Err(err).RawJSON("detail", []byte(mq.DetailJSON())).Msg("malformed query")
		return
	}
	logger.Error().Err(err).Msg("query failed")
}

func asSinkError(err error) error {
	var se *sink.Error
	if errors.As(err, &se) {
		return err
	}
	return &sink.Error{Sink: "sink", Err: err}
}
