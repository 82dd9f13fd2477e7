// Package testutil holds fakes and LocalStack helpers shared by tests.
package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/infobloxopen/bq-ingest/internal/sink"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

// Querier returns a fixed result for every query and records what it ran.
type Querier struct {
	Schema warehouse.Schema
	// Pages of rows. Page numbers are 1-based in the order given.
	Pages [][]warehouse.Row
	// Err is returned from Query when set.
	Err error
	// NextErr is returned after all rows when set.
	NextErr error

	mu      sync.Mutex
	Queries []warehouse.Query
	Closed  bool
}

// NewQuerier returns a Querier serving rows as a single page.
func NewQuerier(schema warehouse.Schema, rows ...warehouse.Row) *Querier {
	return &Querier{Schema: schema, Pages: [][]warehouse.Row{rows}}
}

func (q *Querier) Query(_ context.Context, query warehouse.Query) (warehouse.ResultSet, error) {
	q.mu.Lock()
	q.Queries = append(q.Queries, query)
	q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	return &resultSet{schema: q.Schema, pages: q.Pages, nextErr: q.NextErr}, nil
}

func (q *Querier) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Closed = true
	return nil
}

// LastQuery returns the most recent query, or the zero Query.
func (q *Querier) LastQuery() warehouse.Query {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.Queries) == 0 {
		return warehouse.Query{}
	}
	return q.Queries[len(q.Queries)-1]
}

type resultSet struct {
	schema  warehouse.Schema
	pages   [][]warehouse.Row
	nextErr error
	page    int
	idx     int
}

func (r *resultSet) Schema() warehouse.Schema { return r.schema }

func (r *resultSet) Page() int { return r.page }

func (r *resultSet) Next(context.Context) (warehouse.Row, error) {
	for r.page == 0 || (r.page <= len(r.pages) && r.idx >= len(r.pages[r.page-1])) {
		if r.page >= len(r.pages) {
			if r.nextErr != nil {
				return nil, r.nextErr
			}
			return nil, io.EOF
		}
		r.page++
		r.idx = 0
	}
	row := r.pages[r.page-1][r.idx]
	r.idx++
	return row, nil
}

func (r *resultSet) Close() error { return nil }

// Store is an in-memory checkpoint store.
type Store struct {
	mu     sync.Mutex
	Values map[string]string
	Saves  int
	// LoadErr and SaveErr are returned when set.
	LoadErr error
	SaveErr error
}

func (s *Store) Load(_ context.Context, input, fallback string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return "", s.LoadErr
	}
	if v, ok := s.Values[input]; ok {
		return v, nil
	}
	return fallback, nil
}

func (s *Store) Save(_ context.Context, input, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[input] = value
	s.Saves++
	return nil
}

// Sink records events.
type Sink struct {
	mu     sync.Mutex
	Events []sink.Event
	Closes int
	// WriteErr and CloseErr are returned when set.
	WriteErr error
	CloseErr error
}

func (s *Sink) Write(_ context.Context, e sink.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Events = append(s.Events, e)
	return nil
}

func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	return s.CloseErr
}
