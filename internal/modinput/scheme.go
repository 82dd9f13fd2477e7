package modinput

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Argument names of the bigquery input.
const (
	ArgQuery             = "query"
	ArgServiceAccount    = "service_account"
	ArgTimeField         = "time_field"
	ArgCheckpointField   = "checkpoint_field"
	ArgCheckpointStart   = "checkpoint_start"
	ArgBlacklist         = "blacklist"
	ArgCheckpointOrder   = "checkpoint_order"
	ArgCheckpointBinding = "checkpoint_binding"
	ArgProjectID         = "project_id"
	ArgLocation          = "location"
	ArgStaleAfter        = "checkpoint_stale_after"
)

type scheme struct {
	XMLName               xml.Name `xml:"scheme"`
	Title                 string   `xml:"title"`
	Description           string   `xml:"description"`
	UseExternalValidation bool     `xml:"use_external_validation"`
	UseSingleInstance     bool     `xml:"use_single_instance"`
	StreamingMode         string   `xml:"streaming_mode"`
	Args                  []arg    `xml:"endpoint>args>arg"`
}

type arg struct {
	Name             string `xml:"name,attr"`
	Title            string `xml:"title"`
	Description      string `xml:"description,omitempty"`
	DataType         string `xml:"data_type"`
	RequiredOnCreate bool   `xml:"required_on_create"`
	RequiredOnEdit   bool   `xml:"required_on_edit"`
}

var bigQueryScheme = scheme{
	Title:         "Google BigQuery",
	Description:   "Executes a query against Google BigQuery and loads each row as an event",
	StreamingMode: "xml",
	Args: []arg{
		{Name: ArgQuery, Title: "Query (use %checkpoint% where required)", DataType: "string", RequiredOnCreate: true},
		{Name: ArgServiceAccount, Title: "Service Account", Description: "GCP Service Account as a single line of JSON", DataType: "string", RequiredOnCreate: true},
		{Name: ArgTimeField, Title: "Time Field", Description: "The column that contains the event time", DataType: "string"},
		{Name: ArgCheckpointField, Title: "Checkpoint Field", Description: "The column that increases in newer events, last value will replace %checkpoint% in query.", DataType: "string"},
		{Name: ArgCheckpointStart, Title: "Checkpoint start value", Description: "Value used before the first checkpoint is saved, for example 1970-01-01 00:00:00 UTC for a TIMESTAMP column", DataType: "string"},
		{Name: ArgBlacklist, Title: "Field Blacklist", Description: "Comma separated list of columns that should not be indexed (such as the checkpoint field)", DataType: "string"},
		{Name: ArgCheckpointOrder, Title: "Checkpoint order", Description: "How checkpoint values compare: string (default), numeric or time", DataType: "string"},
		{Name: ArgCheckpointBinding, Title: "Bind checkpoint", Description: "Pass the checkpoint as the @checkpoint query parameter instead of inlining it", DataType: "boolean"},
		{Name: ArgProjectID, Title: "Project ID", Description: "Project running the query jobs, defaults to the service account's project", DataType: "string"},
		{Name: ArgLocation, Title: "Location", Description: "BigQuery location of the jobs, for example EU", DataType: "string"},
		{Name: ArgStaleAfter, Title: "Checkpoint lock timeout", Description: "Age after which a checkpoint lock left by a run on another host is broken, for example 30m (default 1h)", DataType: "string"},
	},
}

// WriteScheme writes the scheme document splunkd requests with --scheme.
func WriteScheme(w io.Writer) error {
	b, err := xml.MarshalIndent(bigQueryScheme, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scheme: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// WriteValidationError writes the document splunkd shows when
// --validate-arguments fails.
func WriteValidationError(w io.Writer, msg string) error {
	type message struct {
		XMLName xml.Name `xml:"error"`
		Message string   `xml:"message"`
	}
	b, err := xml.Marshal(message{Message: msg})
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
