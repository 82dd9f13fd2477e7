package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/infobloxopen/bq-ingest/internal/naming"
)

// DefaultStaleAfter is how old a lock file of a holder on another host must
// be before it is broken.
const DefaultStaleAfter = time.Hour

// FileStore keeps each input's checkpoint in its own file under Dir. The file
// holds the raw checkpoint string and is overwritten in place.
type FileStore struct {
	Dir string
	// StaleAfter overrides DefaultStaleAfter when positive.
	StaleAfter time.Duration
}

// Path returns the checkpoint file used for input.
func (s *FileStore) Path(input string) (string, error) {
	name := naming.CheckpointFile(input)
	if name == "" {
		return "", fmt.Errorf("input name %q has no usable characters for a checkpoint file", input)
	}
	return filepath.Join(s.Dir, name), nil
}

// Load reads the checkpoint for input. A missing file yields fallback.
func (s *FileStore) Load(_ context.Context, input, fallback string) (string, error) {
	path, err := s.Path(input)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	return string(data), nil
}

// Save overwrites the checkpoint for input.
func (s *FileStore) Save(_ context.Context, input, value string) error {
	path, err := s.Path(input)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	return nil
}

// Lock creates an exclusive "<checkpoint>.lock" file next to the checkpoint.
// The file records "host pid time" of the holder. A lock is broken when its
// holder ran on this host and has exited, or when it is older than StaleAfter.
func (s *FileStore) Lock(_ context.Context, input string) (func(context.Context) error, error) {
	path, err := s.Path(input)
	if err != nil {
		return nil, err
	}
	lockPath := path + ".lock"
	owner := lockOwner()

	for attempt := 0; ; attempt++ {
		err := createLock(lockPath, owner)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		holder, readErr := os.ReadFile(lockPath)
		if errors.Is(readErr, fs.ErrNotExist) && attempt == 0 {
			continue
		}
		if readErr != nil || attempt > 0 || !s.abandoned(lockPath, holder) {
			return nil, fmt.Errorf("%w: %s held by %s", ErrLocked, lockPath, strings.TrimSpace(string(holder)))
		}
		if err := breakLock(lockPath, holder); err != nil {
			return nil, err
		}
	}

	return func(context.Context) error {
		holder, err := os.ReadFile(lockPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read lock %s: %w", lockPath, err)
		}
		if string(holder) != owner {
			return fmt.Errorf("lock %s was taken over by %s", lockPath, strings.TrimSpace(string(holder)))
		}
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to release lock %s: %w", lockPath, err)
		}
		return nil
	}, nil
}

// abandoned reports whether the lock holding holder can be broken.
func (s *FileStore) abandoned(lockPath string, holder []byte) bool {
	if host, pid, ok := parseOwner(string(holder)); ok && host == hostname() && !processAlive(pid) {
		return true
	}
	after := s.StaleAfter
	if after <= 0 {
		after = DefaultStaleAfter
	}
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > after
}

// breakLock moves the abandoned lock aside and deletes it. If another run
// replaced the lock in the meantime, its lock is put back and the caller
// sees ErrLocked.
func breakLock(lockPath string, holder []byte) error {
	aside := fmt.Sprintf("%s.%d.%d", lockPath, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(lockPath, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to break stale lock %s: %w", lockPath, err)
	}
	defer os.Remove(aside)

	moved, err := os.ReadFile(aside)
	if err != nil {
		return fmt.Errorf("failed to break stale lock %s: %w", lockPath, err)
	}
	if !bytes.Equal(moved, holder) {
		_ = os.Link(aside, lockPath)
		return fmt.Errorf("%w: %s held by %s", ErrLocked, lockPath, strings.TrimSpace(string(moved)))
	}
	return nil
}

func createLock(path, owner string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("failed to create lock %s: %w", path, err)
	}
	_, werr := f.WriteString(owner)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write lock %s: %w", path, errors.Join(werr, cerr))
	}
	return nil
}

func lockOwner() string {
	return fmt.Sprintf("%s %d %s", hostname(), os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
}

// parseOwner reads "host pid time". The older "pid time" form is taken to
// come from this host.
func parseOwner(s string) (host string, pid int, ok bool) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 2:
		host, fields = hostname(), fields[:1]
	case 3:
		host, fields = fields[0], fields[1:2]
	default:
		return "", 0, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return "", 0, false
	}
	return host, pid, true
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}
