// Package jsonfile keeps the broker's activity journal in a JSONL file.
package jsonfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/pkg/randid"
)

const (
	defaultMaxActivities = 1000
	activityFilename     = "activity.jsonl"
)

var _ activity.Store = (*ActivityStore)(nil)

// ActivityStore implements activity.Store on a JSONL file. A file lock
// serializes access between processes, so `weave activity` can read the
// journal while the broker writes it.
type ActivityStore struct {
	dir           string
	maxActivities int
	mu            sync.Mutex
}

// NewActivityStore creates a new activity store at the given directory.
func NewActivityStore(dir string) *ActivityStore {
	return &ActivityStore{
		dir:           dir,
		maxActivities: defaultMaxActivities,
	}
}

// WithMaxActivities sets the maximum number of activities to retain.
func (s *ActivityStore) WithMaxActivities(max int) *ActivityStore {
	if max > 0 {
		s.maxActivities = max
	}
	return s
}

// Path returns the journal file location.
func (s *ActivityStore) Path() string {
	return filepath.Join(s.dir, activityFilename)
}

func (s *ActivityStore) lockPath() string {
	return s.Path() + ".lock"
}

func (s *ActivityStore) withExclusiveLock(fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create activity directory: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// Record appends an entry, trimming the journal to the retention limit.
func (s *ActivityStore) Record(a activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = randid.Generate(16)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	return s.withExclusiveLock(func() error {
		entries, err := s.readUnsafe()
		if err != nil {
			return err
		}

		entries = append(entries, a)
		if len(entries) > s.maxActivities {
			entries = entries[len(entries)-s.maxActivities:]
		}

		return s.writeUnsafe(entries)
	})
}

// List returns recent entries, newest first.
func (s *ActivityStore) List(limit int) ([]activity.Activity, error) {
	return s.ListSince(time.Time{}, limit)
}

// ListSince returns entries after since, newest first.
func (s *ActivityStore) ListSince(since time.Time, limit int) ([]activity.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []activity.Activity
	err := s.withExclusiveLock(func() error {
		entries, err := s.readUnsafe()
		if err != nil {
			return err
		}

		for i := len(entries) - 1; i >= 0; i-- {
			if !entries[i].Timestamp.After(since) {
				continue
			}
			result = append(result, entries[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	return result, err
}

// readUnsafe reads all entries. Caller must hold the lock.
func (s *ActivityStore) readUnsafe() ([]activity.Activity, error) {
	f, err := os.Open(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open activity file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var entries []activity.Activity
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a activity.Activity
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read activity file: %w", err)
	}

	return entries, nil
}

// writeUnsafe replaces the journal atomically. Caller must hold the lock.
func (s *ActivityStore) writeUnsafe(entries []activity.Activity) error {
	tmpPath := s.Path() + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, a := range entries {
		if err := enc.Encode(a); err != nil {
			f.Close() //nolint:errcheck
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write activity: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
