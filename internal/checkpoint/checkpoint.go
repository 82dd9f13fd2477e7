// Package checkpoint persists the high-water mark of an input between runs.
package checkpoint

import (
	"context"
	"errors"
	"strings"
)

// Placeholder is the query template token replaced by the checkpoint value.
const Placeholder = "%checkpoint%"

// DefaultStart is the checkpoint used when none has been saved yet.
const DefaultStart = "0"

// ErrLocked is returned when another run holds the checkpoint of an input.
var ErrLocked = errors.New("checkpoint is locked by another run")

// Store reads and writes one checkpoint value per input.
type Store interface {
	// Load returns the saved checkpoint for input, or fallback when nothing
	// has been saved yet. Other read failures are returned as errors.
	Load(ctx context.Context, input, fallback string) (string, error)

	// Save overwrites the checkpoint for input.
	Save(ctx context.Context, input, value string) error
}

// Locker is implemented by stores that can guard an input against
// concurrent runs.
type Locker interface {
	// Lock acquires the input's lock. The returned function releases it.
	Lock(ctx context.Context, input string) (release func(context.Context) error, err error)
}

// Substitute replaces every Placeholder in template with value verbatim.
// No quoting or escaping is applied.
func Substitute(template, value string) string {
	return strings.ReplaceAll(template, Placeholder, value)
}

// HasPlaceholder reports whether template references the checkpoint.
func HasPlaceholder(template string) bool {
	return strings.Contains(template, Placeholder)
}
