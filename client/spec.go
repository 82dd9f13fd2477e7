package client

import (
	"fmt"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/ingest"
	"github.com/infobloxopen/bq-ingest/internal/projector"
)

// Spec is the user-facing configuration for the bq-ingest source plugin.
type Spec struct {
	Name              string   `json:"name"`
	Query             string   `json:"query"`
	ServiceAccount    string   `json:"service_account"`
	ProjectID         string   `json:"project_id,omitempty"`
	Location          string   `json:"location,omitempty"`
	TimeField         string   `json:"time_field,omitempty"`
	CheckpointField   string   `json:"checkpoint_field,omitempty"`
	CheckpointStart   string   `json:"checkpoint_start,omitempty"`
	CheckpointOrder   string   `json:"checkpoint_order,omitempty"`
	CheckpointBinding bool     `json:"checkpoint_binding,omitempty"`
	Blacklist         []string `json:"blacklist,omitempty"`
	Format            string   `json:"format,omitempty"`
	RowsPerRecord     int      `json:"rows_per_record,omitempty"`
}

// SetDefaults applies default values for optional fields.
func (s *Spec) SetDefaults() {
	if s.Format == "" {
		s.Format = string(projector.FormatJSON)
	}
	if s.CheckpointOrder == "" {
		s.CheckpointOrder = string(checkpoint.OrderString)
	}
	if s.CheckpointStart == "" {
		s.CheckpointStart = checkpoint.DefaultStart
	}
	if s.RowsPerRecord == 0 {
		s.RowsPerRecord = 500
	}
}

// Validate checks that required fields are set and values are valid.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Query == "" {
		return fmt.Errorf("query is required")
	}
	if s.ServiceAccount == "" {
		return fmt.Errorf("service_account is required")
	}
	if _, err := projector.ParseFormat(s.Format); err != nil {
		return err
	}
	if _, err := checkpoint.ParseOrder(s.CheckpointOrder); err != nil {
		return err
	}
	if s.RowsPerRecord < 1 {
		return fmt.Errorf("rows_per_record must be at least 1")
	}
	return nil
}

func (s *Spec) ingestSpec() ingest.Spec {
	return ingest.Spec{
		Input:            s.Name,
		Query:            s.Query,
		TimeColumn:       s.TimeField,
		CheckpointColumn: s.CheckpointField,
		CheckpointStart:  s.CheckpointStart,
		Excluded:         s.Blacklist,
		Format:           projector.Format(s.Format),
		Order:            checkpoint.Order(s.CheckpointOrder),
		Bind:             s.CheckpointBinding,
	}
}
