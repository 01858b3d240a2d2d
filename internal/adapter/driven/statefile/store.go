// Package statefile persists the page agent's markers in a single JSON file,
// so they survive the process restarts that stand between page loads.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MarkerStore = (*Store)(nil)

// markerState is the on-disk shape: the owning identity plus one map per
// marker kind, keyed by origin.
type markerState struct {
	Identity        string                                  `json:"identity,omitempty"`
	Learning        map[string]*model.LearningCapture       `json:"learning,omitempty"`
	PasswordChanges map[string]*model.PasswordChangeCapture `json:"passwordChanges,omitempty"`
	LoginAttempts   map[string]*model.AutoLoginAttempt      `json:"loginAttempts,omitempty"`
}

// Store reads and writes the marker file. Captures hold live credentials
// briefly, so the file is 0600 and writes are atomic (temp file + rename);
// a crash mid-write leaves the previous state intact, never a torn file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store persisting to the given path. The file is created on
// first write.
func New(path string) *Store {
	return &Store{path: path}
}

// LearningCapture returns the pending capture for the origin, or (nil, nil).
func (s *Store) LearningCapture(origin string) (*model.LearningCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.Learning[origin], nil
}

// PutLearningCapture stores the capture, replacing any previous one for the
// same origin.
func (s *Store) PutLearningCapture(capture *model.LearningCapture) error {
	return s.mutate(func(state *markerState) {
		if state.Learning == nil {
			state.Learning = make(map[string]*model.LearningCapture)
		}
		state.Learning[capture.Origin] = capture
	})
}

// ClearLearningCapture removes the capture for the origin. Clearing a missing
// marker is a no-op.
func (s *Store) ClearLearningCapture(origin string) error {
	return s.mutate(func(state *markerState) {
		delete(state.Learning, origin)
	})
}

// PasswordChangeCapture returns the pending capture for the origin, or
// (nil, nil).
func (s *Store) PasswordChangeCapture(origin string) (*model.PasswordChangeCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.PasswordChanges[origin], nil
}

// PutPasswordChangeCapture stores the capture, replacing any previous one
// for the same origin.
func (s *Store) PutPasswordChangeCapture(capture *model.PasswordChangeCapture) error {
	return s.mutate(func(state *markerState) {
		if state.PasswordChanges == nil {
			state.PasswordChanges = make(map[string]*model.PasswordChangeCapture)
		}
		state.PasswordChanges[capture.Origin] = capture
	})
}

// ClearPasswordChangeCapture removes the capture for the origin.
func (s *Store) ClearPasswordChangeCapture(origin string) error {
	return s.mutate(func(state *markerState) {
		delete(state.PasswordChanges, origin)
	})
}

// AutoLoginAttempt returns the replay marker for the origin, or (nil, nil).
func (s *Store) AutoLoginAttempt(origin string) (*model.AutoLoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	return state.LoginAttempts[origin], nil
}

// PutAutoLoginAttempt stores the replay marker.
func (s *Store) PutAutoLoginAttempt(attempt *model.AutoLoginAttempt) error {
	return s.mutate(func(state *markerState) {
		if state.LoginAttempts == nil {
			state.LoginAttempts = make(map[string]*model.AutoLoginAttempt)
		}
		state.LoginAttempts[attempt.Origin] = attempt
	})
}

// ClearAutoLoginAttempt removes the replay marker for the origin.
func (s *Store) ClearAutoLoginAttempt(origin string) error {
	return s.mutate(func(state *markerState) {
		delete(state.LoginAttempts, origin)
	})
}

// Owner returns the identity recorded by SetOwner, or "" for a fresh store.
func (s *Store) Owner() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return "", err
	}
	return state.Identity, nil
}

// SetOwner records which identity the stored markers belong to.
func (s *Store) SetOwner(identity string) error {
	return s.mutate(func(state *markerState) {
		state.Identity = identity
	})
}

// Reset removes every marker for every origin by deleting the file.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

func (s *Store) mutate(fn func(*markerState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	fn(state)
	return s.save(state)
}

func (s *Store) load() (*markerState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &markerState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read marker file: %w", err)
	}

	var state markerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal marker file: %w", err)
	}
	return &state, nil
}

func (s *Store) save(state *markerState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal marker state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write marker temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("rename marker temp file: %w", err)
	}
	return nil
}
