// Package plugin provides the CloudQuery plugin wiring for bq-ingest.
package plugin

import (
	"github.com/infobloxopen/bq-ingest/client"

	"github.com/cloudquery/plugin-sdk/v4/plugin"
)

// Version is set at build time via ldflags.
var (
	Version = "development"
)

// Plugin returns a new CloudQuery source plugin that syncs query results.
func Plugin() *plugin.Plugin {
	return plugin.NewPlugin(
		"bq-ingest",
		Version,
		client.Configure,
	)
}
