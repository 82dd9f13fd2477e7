// Package projector turns result rows into events: it resolves each row's
// timestamp, advances the checkpoint and serializes the payload.
package projector

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/normalize"
	"github.com/infobloxopen/bq-ingest/internal/sink"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

// Format selects how rows are serialized.
type Format string

const (
	// FormatJSON writes a compact JSON object per row.
	FormatJSON Format = "json"
	// FormatFlat writes every column tab separated.
	FormatFlat Format = "tsv"
)

// ParseFormat parses "json" or "tsv". Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatFlat:
		return FormatFlat, nil
	default:
		return "", fmt.Errorf("unknown format %q: want json or tsv", s)
	}
}

// ContentType is the media type of events serialized in f.
func (f Format) ContentType() string {
	if f == FormatFlat {
		return "text/tab-separated-values"
	}
	return "application/json"
}

// FormatForSourcetype selects flat output for sourcetypes ending in "tsv".
func FormatForSourcetype(sourcetype string) Format {
	if strings.HasSuffix(sourcetype, "tsv") {
		return FormatFlat
	}
	return FormatJSON
}

// epochLimit is the largest value treated as epoch seconds.
const epochLimit = 9999999999

// IntegerToEpoch scales an integer epoch in milliseconds, microseconds or
// nanoseconds down to seconds by dividing by 10 until it fits in ten digits.
func IntegerToEpoch(v int64) float64 {
	f := float64(v)
	for f > epochLimit {
		f /= 10
	}
	return f
}

// ColumnErrorKind classifies a ColumnError.
type ColumnErrorKind int

const (
	TimeMissing ColumnErrorKind = iota
	TimeBadType
	CheckpointMissing
)

// ColumnError reports a configured column the results cannot satisfy.
type ColumnError struct {
	Kind   ColumnErrorKind
	Column string
	// Type is the offending column type, or Go type for a bad value.
	Type string
}

func (e *ColumnError) Error() string {
	switch e.Kind {
	case TimeMissing:
		return fmt.Sprintf("time column %q not found in query results", e.Column)
	case TimeBadType:
		return fmt.Sprintf("time column %q has type %s, expected TIMESTAMP or INTEGER", e.Column, e.Type)
	default:
		return fmt.Sprintf("checkpoint column %q not found in query results", e.Column)
	}
}

// Options configures a Projector.
type Options struct {
	TimeColumn       string
	CheckpointColumn string
	// Excluded columns are dropped from JSON payloads.
	Excluded []string
	Format   Format
	Order    checkpoint.Order
}

// Projector converts rows of one result set.
type Projector struct {
	schema    warehouse.Schema
	format    Format
	excluded  map[string]struct{}
	timeIdx   int
	timeType  warehouse.ColumnType
	cpIdx     int
	tracker   *checkpoint.Tracker
	queryTime float64
}

// New validates opts against schema. loaded is the checkpoint the run
// started from, and queryTime stamps rows that carry no time of their own.
func New(schema warehouse.Schema, opts Options, loaded string, queryTime time.Time) (*Projector, error) {
	p := &Projector{
		schema:    schema,
		format:    opts.Format,
		excluded:  make(map[string]struct{}, len(opts.Excluded)),
		timeIdx:   -1,
		cpIdx:     -1,
		tracker:   checkpoint.NewTracker(opts.Order, loaded),
		queryTime: epochSeconds(queryTime),
	}
	if p.format == "" {
		p.format = FormatJSON
	}
	for _, c := range opts.Excluded {
		p.excluded[c] = struct{}{}
	}

	if opts.TimeColumn != "" {
		i := schema.Index(opts.TimeColumn)
		if i < 0 {
			return nil, &ColumnError{Kind: TimeMissing, Column: opts.TimeColumn}
		}
		t := schema[i].Type
		if (t != warehouse.TypeTimestamp && t != warehouse.TypeInteger) || schema[i].Repeated {
			return nil, &ColumnError{Kind: TimeBadType, Column: opts.TimeColumn, Type: string(t)}
		}
		p.timeIdx, p.timeType = i, t
	}

	if opts.CheckpointColumn != "" {
		i := schema.Index(opts.CheckpointColumn)
		if i < 0 {
			return nil, &ColumnError{Kind: CheckpointMissing, Column: opts.CheckpointColumn}
		}
		p.cpIdx = i
	}
	return p, nil
}

// Tracker returns the checkpoint accumulated so far.
func (p *Projector) Tracker() *checkpoint.Tracker { return p.tracker }

// Project converts one row. The checkpoint only advances once the row has
// serialized successfully.
func (p *Projector) Project(row warehouse.Row) (sink.Event, error) {
	if len(row) != len(p.schema) {
		return sink.Event{}, fmt.Errorf("row has %d values for %d columns", len(row), len(p.schema))
	}

	ts, err := p.timestamp(row)
	if err != nil {
		return sink.Event{}, err
	}

	var data string
	if p.format == FormatFlat {
		data, err = p.flat(row)
	} else {
		data, err = p.structured(row)
	}
	if err != nil {
		return sink.Event{}, err
	}

	if p.cpIdx >= 0 && row[p.cpIdx] != nil {
		v, err := normalize.Value(row[p.cpIdx])
		if err != nil {
			return sink.Event{}, fmt.Errorf("column %s: %w", p.schema[p.cpIdx].Name, err)
		}
		text, err := normalize.Text(v)
		if err != nil {
			return sink.Event{}, fmt.Errorf("column %s: %w", p.schema[p.cpIdx].Name, err)
		}
		p.tracker.Observe(text)
	}

	return sink.Event{Time: ts, Data: data}, nil
}

func (p *Projector) timestamp(row warehouse.Row) (float64, error) {
	if p.timeIdx < 0 || row[p.timeIdx] == nil {
		return p.queryTime, nil
	}
	v := row[p.timeIdx]
	bad := &ColumnError{Kind: TimeBadType, Column: p.schema[p.timeIdx].Name, Type: fmt.Sprintf("%T", v)}

	if p.timeType == warehouse.TypeTimestamp {
		switch x := v.(type) {
		case time.Time:
			return epochSeconds(x), nil
		case string:
			t, err := parseTimestamp(x)
			if err != nil {
				return 0, bad
			}
			return epochSeconds(t), nil
		}
		return 0, bad
	}

	switch x := v.(type) {
	case int64:
		return IntegerToEpoch(x), nil
	case int:
		return IntegerToEpoch(int64(x)), nil
	case int32:
		return IntegerToEpoch(int64(x)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, bad
		}
		return IntegerToEpoch(int64(x)), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, bad
		}
		return IntegerToEpoch(n), nil
	}
	return 0, bad
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	normalize.TimestampLayout,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func (p *Projector) flat(row warehouse.Row) (string, error) {
	var b strings.Builder
	for i, raw := range row {
		if i > 0 {
			b.WriteByte('\t')
		}
		v, err := normalize.Value(raw)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", p.schema[i].Name, err)
		}
		text, err := normalize.Text(v)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", p.schema[i].Name, err)
		}
		b.WriteString(text)
	}
	b.WriteByte('\n')
	return b.String(), nil
}

func (p *Projector) structured(row warehouse.Row) (string, error) {
	m := make(normalize.Map, 0, len(row))
	for i, raw := range row {
		name := p.schema[i].Name
		if _, skip := p.excluded[name]; skip || normalize.IsEmpty(raw) {
			continue
		}
		v, err := normalize.Value(raw)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", name, err)
		}
		m = append(m, normalize.Field{Key: name, Value: v})
	}
	return normalize.Compact(m)
}
