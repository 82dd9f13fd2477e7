// Package credential resolves secrets that inputs keep masked in their
// configuration.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Mask replaces a secret in input configuration once it has been stored.
const Mask = "<encrypted>"

// ErrNotFound is returned when no secret is stored under a name.
var ErrNotFound = errors.New("credential not found")

// Resolver stores and retrieves secrets by name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
	Rotate(ctx context.Context, name, secret string) error
}

// Error reports a secret that could not be resolved or stored.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("credential %s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reveal returns the clear secret for a configured value. A masked value is
// resolved through r. A clear value is rotated into r, and rotated is true
// so the caller can replace it with Mask in the input configuration.
func Reveal(ctx context.Context, r Resolver, name, value string) (secret string, rotated bool, err error) {
	switch value {
	case "":
		return "", false, &Error{Name: name, Err: errors.New("no value configured")}
	case Mask:
		s, err := r.Resolve(ctx, name)
		if err != nil {
			return "", false, &Error{Name: name, Err: err}
		}
		return s, false, nil
	}
	if err := r.Rotate(ctx, name, value); err != nil {
		return "", false, &Error{Name: name, Err: fmt.Errorf("failed to store secret: %w", err)}
	}
	return value, true, nil
}

// Memory keeps secrets in process.
type Memory struct {
	mu      sync.Mutex
	secrets map[string]string
}

// NewMemory returns a store seeded with secrets.
func NewMemory(secrets map[string]string) *Memory {
	m := &Memory{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		m.secrets[k] = v
	}
	return m
}

func (m *Memory) Resolve(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[name]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (m *Memory) Rotate(_ context.Context, name, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secrets == nil {
		m.secrets = make(map[string]string)
	}
	m.secrets[name] = secret
	return nil
}
