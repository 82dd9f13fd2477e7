// Package bq runs queries against Google BigQuery.
package bq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/normalize"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

// ParameterName is the named parameter used when the checkpoint is bound.
const ParameterName = "checkpoint"

// Scopes requested for service account credentials. Drive access lets
// queries read Sheets-backed external tables.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/bigquery",
}

// Config configures a Querier.
type Config struct {
	// ProjectID defaults to the project_id of the service account.
	ProjectID string
	// CredentialsJSON is a service account key. When empty the client falls
	// back to application default credentials.
	CredentialsJSON []byte
	// Location pins jobs to a BigQuery region.
	Location string
	// ClientOptions are appended after the credential options.
	ClientOptions []option.ClientOption
}

// Querier implements warehouse.Querier for BigQuery.
type Querier struct {
	client *bigquery.Client
}

// ProjectFromCredentials extracts project_id from a service account key.
func ProjectFromCredentials(creds []byte) (string, error) {
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(creds, &sa); err != nil {
		return "", fmt.Errorf("failed to parse service account JSON: %w", err)
	}
	if sa.ProjectID == "" {
		return "", fmt.Errorf("service account JSON has no project_id")
	}
	return sa.ProjectID, nil
}

// New creates a BigQuery client. Failures are returned as
// *warehouse.ClientError.
func New(ctx context.Context, cfg Config) (*Querier, error) {
	project := cfg.ProjectID
	if project == "" {
		p, err := ProjectFromCredentials(cfg.CredentialsJSON)
		if err != nil {
			return nil, &warehouse.ClientError{Err: err}
		}
		project = p
	}

	var opts []option.ClientOption
	if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts,
			option.WithCredentialsJSON(cfg.CredentialsJSON),
			option.WithScopes(Scopes...),
		)
	}
	opts = append(opts, cfg.ClientOptions...)

	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, &warehouse.ClientError{Err: fmt.Errorf("failed to create bigquery client for project %s: %w", project, err)}
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &Querier{client: client}, nil
}

// Query submits q and fetches the first page so the schema is known.
func (q *Querier) Query(ctx context.Context, query warehouse.Query) (warehouse.ResultSet, error) {
	bqq := q.client.Query(bindSQL(query))
	if query.Bind != nil {
		bqq.Parameters = []bigquery.QueryParameter{{Name: ParameterName, Value: *query.Bind}}
	}

	it, err := bqq.Read(ctx)
	if err != nil {
		return nil, classify(err)
	}

	rs := &resultSet{it: it}
	if err := rs.prefetch(); err != nil {
		return nil, classify(err)
	}
	return rs, nil
}

// Close closes the BigQuery client.
func (q *Querier) Close() error {
	return q.client.Close()
}

func bindSQL(query warehouse.Query) string {
	if query.Bind == nil {
		return query.SQL
	}
	return strings.ReplaceAll(query.SQL, checkpoint.Placeholder, "@"+ParameterName)
}

type resultSet struct {
	it     *bigquery.RowIterator
	fields bigquery.Schema
	schema warehouse.Schema

	first    []bigquery.Value
	hasFirst bool
	done     bool
	page     int
}

func (r *resultSet) prefetch() error {
	var row []bigquery.Value
	err := r.fetch(&row)
	switch {
	case errors.Is(err, iterator.Done):
		r.done = true
	case err != nil:
		return err
	default:
		r.first = row
		r.hasFirst = true
	}
	r.fields = r.it.Schema
	r.schema = convertSchema(r.fields)
	return nil
}

// fetch reads one row, counting a page whenever the iterator had to go back
// to the API for it.
func (r *resultSet) fetch(row *[]bigquery.Value) error {
	newPage := r.it.PageInfo().Remaining() == 0
	if err := r.it.Next(row); err != nil {
		return err
	}
	if newPage {
		r.page++
	}
	return nil
}

func (r *resultSet) Schema() warehouse.Schema { return r.schema }

func (r *resultSet) Page() int { return r.page }

func (r *resultSet) Next(context.Context) (warehouse.Row, error) {
	var raw []bigquery.Value
	switch {
	case r.hasFirst:
		raw, r.first, r.hasFirst = r.first, nil, false
	case r.done:
		return nil, io.EOF
	default:
		err := r.fetch(&raw)
		if errors.Is(err, iterator.Done) {
			r.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, classify(err)
		}
	}
	return convertRow(r.fields, raw)
}

func (r *resultSet) Close() error { return nil }

func convertSchema(fields bigquery.Schema) warehouse.Schema {
	out := make(warehouse.Schema, 0, len(fields))
	for _, f := range fields {
		out = append(out, warehouse.Column{
			Name:     f.Name,
			Type:     columnType(f.Type),
			Repeated: f.Repeated,
		})
	}
	return out
}

func columnType(ft bigquery.FieldType) warehouse.ColumnType {
	switch t := strings.ToUpper(string(ft)); t {
	case "INT64":
		return warehouse.TypeInteger
	case "FLOAT64":
		return warehouse.TypeFloat
	case "BOOL":
		return warehouse.TypeBoolean
	case "STRUCT":
		return warehouse.TypeRecord
	default:
		return warehouse.ColumnType(t)
	}
}

func convertRow(fields bigquery.Schema, raw []bigquery.Value) (warehouse.Row, error) {
	if len(raw) != len(fields) {
		return nil, fmt.Errorf("row has %d values for %d columns", len(raw), len(fields))
	}
	row := make(warehouse.Row, len(raw))
	for i, f := range fields {
		v, err := convertValue(f, raw[i])
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// convertValue unwraps bigquery.Value containers: REPEATED values become
// []any and RECORD values become ordered maps keyed by the sub-schema.
func convertValue(f *bigquery.FieldSchema, v bigquery.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	if !f.Repeated {
		return convertScalar(f, v)
	}
	vs, ok := v.([]bigquery.Value)
	if !ok {
		return nil, fmt.Errorf("column %s: repeated value has type %T", f.Name, v)
	}
	out := make([]any, 0, len(vs))
	for _, elem := range vs {
		c, err := convertScalar(f, elem)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func convertScalar(f *bigquery.FieldSchema, v bigquery.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Type != bigquery.RecordFieldType {
		return any(v), nil
	}
	vs, ok := v.([]bigquery.Value)
	if !ok {
		return nil, fmt.Errorf("column %s: record value has type %T", f.Name, v)
	}
	if len(vs) != len(f.Schema) {
		return nil, fmt.Errorf("column %s: record has %d values for %d fields", f.Name, len(vs), len(f.Schema))
	}
	m := make(normalize.Map, 0, len(f.Schema))
	for i, sub := range f.Schema {
		c, err := convertValue(sub, vs[i])
		if err != nil {
			return nil, err
		}
		m = append(m, normalize.Field{Key: sub.Name, Value: c})
	}
	return m, nil
}

// classify turns BigQuery rejections of the query text into
// *warehouse.MalformedQueryError and leaves other errors untouched.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
		details := make([]warehouse.ErrorDetail, 0, len(gerr.Errors))
		for _, item := range gerr.Errors {
			details = append(details, warehouse.ErrorDetail{Reason: item.Reason, Message: item.Message})
		}
		if len(details) == 0 {
			details = append(details, warehouse.ErrorDetail{Message: gerr.Message})
		}
		return &warehouse.MalformedQueryError{Details: details, Err: err}
	}

	var bqErr *bigquery.Error
	if errors.As(err, &bqErr) && (bqErr.Reason == "invalidQuery" || bqErr.Reason == "invalid") {
		return &warehouse.MalformedQueryError{
			Details: []warehouse.ErrorDetail{{Reason: bqErr.Reason, Location: bqErr.Location, Message: bqErr.Message}},
			Err:     err,
		}
	}
	return err
}
