// Package jsonfile persists LoopOS data as JSON documents in one directory.
// Every operation loads the documents, works on an in-memory copy and
// writes them back atomically, so a failed operation leaves the files as
// they were.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const (
	usersFile       = "users.json"
	plantsFile      = "plants.json"
	assignmentsFile = "assignments.json"
	ordersFile      = "orders.json"
	lockFile        = ".lock"
)

const lockRetry = 50 * time.Millisecond

// Store is a JSON file backend. It is safe for concurrent use, and separate
// processes sharing Dir serialize on a lock file.
type Store struct {
	dir    string
	mu     sync.Mutex
	flock  *flock.Flock
	logger *slog.Logger
}

type state struct {
	users       []userRecord
	plants      []plantRecord
	assignments map[string]assignmentRecord
	orders      []orderRecord
}

// Open prepares dir and returns a Store over it.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("jsonfile: create data dir: %w", err)
	}
	return &Store{dir: dir, flock: flock.New(filepath.Join(dir, lockFile)), logger: logger}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the lock file handle.
func (s *Store) Close() error {
	return s.flock.Close()
}

// view runs fn against a fresh snapshot without writing back.
func (s *Store) view(ctx context.Context, fn func(*state) error) error {
	return s.run(ctx, false, fn)
}

// update runs fn against a fresh snapshot and commits it when fn succeeds.
func (s *Store) update(ctx context.Context, fn func(*state) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, write bool, fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.flock.TryLockContext(ctx, lockRetry)
	if !ok {
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("jsonfile: acquire %s: %w", s.flock.Path(), err)
	}
	defer func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warn("jsonfile: release lock", slog.Any("error", err))
		}
	}()

	st, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.save(st)
}

func (s *Store) load() (*state, error) {
	st := &state{assignments: make(map[string]assignmentRecord)}
	if err := s.read(usersFile, &st.users); err != nil {
		return nil, err
	}
	if err := s.read(plantsFile, &st.plants); err != nil {
		return nil, err
	}
	if err := s.read(assignmentsFile, &st.assignments); err != nil {
		return nil, err
	}
	if err := s.read(ordersFile, &st.orders); err != nil {
		return nil, err
	}
	if st.assignments == nil {
		st.assignments = make(map[string]assignmentRecord)
	}
	return st, nil
}

func (s *Store) save(st *state) error {
	docs := []struct {
		name string
		v    any
	}{
		{usersFile, st.users},
		{plantsFile, st.plants},
		{assignmentsFile, st.assignments},
		{ordersFile, st.orders},
	}
	for _, d := range docs {
		if err := s.write(d.name, d.v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) read(name string, target any) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jsonfile: read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("jsonfile: decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) write(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode %s: %w", name, err)
	}
	if err := atomic.WriteFile(filepath.Join(s.dir, name), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", name, err)
	}
	return nil
}
