// Package warehouse defines the query executor contract shared by the
// BigQuery and database/sql backends.
package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
)

// ColumnType is a warehouse column type, named after BigQuery's field types.
type ColumnType string

const (
	TypeString     ColumnType = "STRING"
	TypeBytes      ColumnType = "BYTES"
	TypeInteger    ColumnType = "INTEGER"
	TypeFloat      ColumnType = "FLOAT"
	TypeNumeric    ColumnType = "NUMERIC"
	TypeBigNumeric ColumnType = "BIGNUMERIC"
	TypeBoolean    ColumnType = "BOOLEAN"
	TypeTimestamp  ColumnType = "TIMESTAMP"
	TypeDate       ColumnType = "DATE"
	TypeTime       ColumnType = "TIME"
	TypeDateTime   ColumnType = "DATETIME"
	TypeRecord     ColumnType = "RECORD"
	TypeJSON       ColumnType = "JSON"
	TypeGeography  ColumnType = "GEOGRAPHY"
	TypeOther      ColumnType = "OTHER"
)

// Column describes one result column.
type Column struct {
	Name     string
	Type     ColumnType
	Repeated bool
}

// Schema is the ordered column list of a result set.
type Schema []Column

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Row holds one value per schema column, in schema order.
type Row []any

// Query is a statement to submit.
type Query struct {
	SQL string
	// Bind, when non-nil, turns each checkpoint.Placeholder in SQL into a
	// bind parameter carrying this value instead of inlining it.
	Bind *string
}

// Occurrences returns how many placeholders the query binds.
func (q Query) Occurrences() int {
	if q.Bind == nil {
		return 0
	}
	return strings.Count(q.SQL, checkpoint.Placeholder)
}

// ResultSet is a lazily paged query result.
type ResultSet interface {
	// Schema describes the columns of every row.
	Schema() Schema
	// Next returns the next row, or io.EOF after the last one.
	Next(ctx context.Context) (Row, error)
	// Page returns the 1-based number of the page the last row came from.
	Page() int
	// Close releases the result set.
	Close() error
}

// Querier submits queries to a warehouse.
type Querier interface {
	Query(ctx context.Context, q Query) (ResultSet, error)
	Close() error
}

// ErrorDetail is one structured error entry reported by the warehouse.
type ErrorDetail struct {
	Reason   string `json:"reason,omitempty"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message"`
}

// MalformedQueryError means the warehouse rejected the query text.
type MalformedQueryError struct {
	Details []ErrorDetail
	Err     error
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query: %v", e.Err)
}

func (e *MalformedQueryError) Unwrap() error { return e.Err }

// DetailJSON renders Details as compact JSON for logging.
func (e *MalformedQueryError) DetailJSON() string {
	if len(e.Details) == 0 {
		return "[]"
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// ClientError means the warehouse client could not be constructed, for
// example because of bad credentials or an unreachable project.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("unable to obtain warehouse client: %v", e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }
