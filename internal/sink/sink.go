// Package sink delivers projected events to a log-ingestion pipeline.
package sink

import (
	"context"
	"fmt"
	"strconv"
)

// Event is one projected row.
type Event struct {
	// Time is the event timestamp in epoch seconds.
	Time float64
	// Data is the serialized row.
	Data string
}

// TimeString formats Time the way Splunk expects: seconds with up to
// microsecond precision and no exponent.
func (e Event) TimeString() string {
	return strconv.FormatFloat(e.Time, 'f', -1, 64)
}

// Writer receives the events of one run in order. Close ends the stream and
// flushes anything buffered; a run is only complete once Close succeeds.
type Writer interface {
	Write(ctx context.Context, e Event) error
	Close(ctx context.Context) error
}

// Metadata describes where events came from. Empty fields are omitted by
// the sinks that carry them.
type Metadata struct {
	Input       string
	Source      string
	Sourcetype  string
	Index       string
	Host        string
	// ContentType of Event.Data, carried by broker sinks.
	ContentType string
}

// Error wraps a delivery failure.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s sink: %v", e.Sink, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Discard drops every event. It is used for dry runs.
type Discard struct {
	Count int
}

func (d *Discard) Write(context.Context, Event) error {
	d.Count++
	return nil
}

func (d *Discard) Close(context.Context) error { return nil }
