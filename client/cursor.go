package client

import (
	"context"
	"fmt"

	"github.com/cloudquery/plugin-sdk/v4/state"
)

// CheckpointKey returns the state backend key for an input's checkpoint.
func CheckpointKey(input string) string {
	return fmt.Sprintf("bigquery/%s/checkpoint", input)
}

// StateStore keeps checkpoints in the CloudQuery state backend. Values are
// written on SetKey and persisted by the caller's Flush.
type StateStore struct {
	Client state.Client
}

// Load returns the stored checkpoint, or fallback when none is stored.
func (s *StateStore) Load(ctx context.Context, input, fallback string) (string, error) {
	val, err := s.Client.GetKey(ctx, CheckpointKey(input))
	if err != nil {
		return "", fmt.Errorf("failed to get checkpoint for %s: %w", input, err)
	}
	if val == "" {
		return fallback, nil
	}
	return val, nil
}

// Save stores the checkpoint for input.
func (s *StateStore) Save(ctx context.Context, input, value string) error {
	if err := s.Client.SetKey(ctx, CheckpointKey(input), value); err != nil {
		return fmt.Errorf("failed to set checkpoint for %s: %w", input, err)
	}
	return nil
}
