package ingest

import (
	"errors"
	"fmt"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/credential"
	"github.com/infobloxopen/bq-ingest/internal/normalize"
	"github.com/infobloxopen/bq-ingest/internal/projector"
	"github.com/infobloxopen/bq-ingest/internal/sink"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

// Process exit codes, one per failure class.
const (
	ExitOK                = 0
	ExitClient            = 1
	ExitQuery             = 2
	ExitTimeType          = 3
	ExitTimeMissing       = 4
	ExitCheckpointMissing = 5
	ExitMalformedQuery    = 6
	ExitCredential        = 7
	ExitUnsupportedType   = 8
	ExitCheckpointStore   = 9
	ExitSink              = 10
	ExitConfig            = 11
)

// CheckpointError wraps a checkpoint store failure.
type CheckpointError struct {
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("failed to %s checkpoint: %v", e.Op, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// ConfigError reports an input configuration that cannot run.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid input configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by a run to its process exit code.
// Errors without a more specific class are generic query failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		clientErr *warehouse.ClientError
		malformed *warehouse.MalformedQueryError
		column    *projector.ColumnError
		typeErr   *normalize.UnsupportedTypeError
		credErr   *credential.Error
		cpErr     *CheckpointError
		sinkErr   *sink.Error
		cfgErr    *ConfigError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &credErr):
		return ExitCredential
	case errors.As(err, &clientErr):
		return ExitClient
	case errors.Is(err, checkpoint.ErrLocked), errors.As(err, &cpErr):
		return ExitCheckpointStore
	case errors.As(err, &malformed):
		return ExitMalformedQuery
	case errors.As(err, &column):
		switch column.Kind {
		case projector.TimeMissing:
			return ExitTimeMissing
		case projector.TimeBadType:
			return ExitTimeType
		default:
			return ExitCheckpointMissing
		}
	case errors.As(err, &typeErr):
		return ExitUnsupportedType
	case errors.As(err, &sinkErr):
		return ExitSink
	default:
		return ExitQuery
	}
}
