package client

import (
	"testing"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/projector"
)

func TestSpec_SetDefaults(t *testing.T) {
	t.Run("applies all defaults to zero-value spec", func(t *testing.T) {
		s := Spec{Name: "orders", Query: "SELECT 1", ServiceAccount: "{}"}
		s.SetDefaults()

		if s.Format != "json" {
			t.Errorf("Format = %q, want %q", s.Format, "json")
		}
		if s.CheckpointOrder != "string" {
			t.Errorf("CheckpointOrder = %q, want %q", s.CheckpointOrder, "string")
		}
		if s.CheckpointStart != "0" {
			t.Errorf("CheckpointStart = %q, want %q", s.CheckpointStart, "0")
		}
		if s.RowsPerRecord != 500 {
			t.Errorf("RowsPerRecord = %d, want %d", s.RowsPerRecord, 500)
		}
	})

	t.Run("does not override explicit values", func(t *testing.T) {
		s := Spec{
			Format:          "tsv",
			CheckpointOrder: "time",
			CheckpointStart: "1970-01-01 00:00:00 UTC",
			RowsPerRecord:   100,
		}
		s.SetDefaults()

		if s.Format != "tsv" {
			t.Errorf("Format = %q, want %q", s.Format, "tsv")
		}
		if s.CheckpointOrder != "time" {
			t.Errorf("CheckpointOrder = %q, want %q", s.CheckpointOrder, "time")
		}
		if s.CheckpointStart != "1970-01-01 00:00:00 UTC" {
			t.Errorf("CheckpointStart = %q", s.CheckpointStart)
		}
		if s.RowsPerRecord != 100 {
			t.Errorf("RowsPerRecord = %d, want %d", s.RowsPerRecord, 100)
		}
	})
}

func TestSpec_Validate(t *testing.T) {
	validSpec := func() Spec {
		return Spec{
			Name:            "orders",
			Query:           "SELECT * FROM t WHERE id > %checkpoint%",
			ServiceAccount:  `{"project_id":"p"}`,
			Format:          "json",
			CheckpointOrder: "numeric",
			RowsPerRecord:   500,
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		s := validSpec()
		if err := s.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	required := []struct {
		name   string
		clear  func(s *Spec)
		errMsg string
	}{
		{"missing name", func(s *Spec) { s.Name = "" }, "name is required"},
		{"missing query", func(s *Spec) { s.Query = "" }, "query is required"},
		{"missing service account", func(s *Spec) { s.ServiceAccount = "" }, "service_account is required"},
	}
	for _, tc := range required {
		t.Run(tc.name, func(t *testing.T) {
			s := validSpec()
			tc.clear(&s)
			err := s.Validate()
			if err == nil {
				t.Fatalf("expected error %q", tc.errMsg)
			}
			if got := err.Error(); got != tc.errMsg {
				t.Errorf("error = %q, want %q", got, tc.errMsg)
			}
		})
	}

	t.Run("invalid format", func(t *testing.T) {
		s := validSpec()
		s.Format = "csv"
		if err := s.Validate(); err == nil {
			t.Fatal("expected error for invalid format")
		}
	})

	t.Run("invalid checkpoint order", func(t *testing.T) {
		s := validSpec()
		s.CheckpointOrder = "random"
		if err := s.Validate(); err == nil {
			t.Fatal("expected error for invalid checkpoint_order")
		}
	})

	t.Run("rows_per_record less than 1", func(t *testing.T) {
		s := validSpec()
		s.RowsPerRecord = 0
		if err := s.Validate(); err == nil {
			t.Fatal("expected error for rows_per_record < 1")
		}
	})
}

func TestSpec_IngestSpec(t *testing.T) {
	s := Spec{
		Name:              "orders",
		Query:             "SELECT 1",
		TimeField:         "ts",
		CheckpointField:   "id",
		CheckpointStart:   "5",
		CheckpointOrder:   "numeric",
		CheckpointBinding: true,
		Blacklist:         []string{"id"},
		Format:            "tsv",
	}
	got := s.ingestSpec()

	if got.Input != "orders" || got.TimeColumn != "ts" || got.CheckpointColumn != "id" || got.CheckpointStart != "5" {
		t.Errorf("unexpected ingest spec: %+v", got)
	}
	if got.Format != projector.FormatFlat {
		t.Errorf("Format = %q, want %q", got.Format, projector.FormatFlat)
	}
	if got.Order != checkpoint.OrderNumeric {
		t.Errorf("Order = %q, want %q", got.Order, checkpoint.OrderNumeric)
	}
	if !got.Bind {
		t.Error("Bind = false, want true")
	}
	if len(got.Excluded) != 1 || got.Excluded[0] != "id" {
		t.Errorf("Excluded = %v, want [id]", got.Excluded)
	}
}
