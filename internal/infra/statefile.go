package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// StateFileSuffix is appended to the configuration path to locate the run-state file.
const StateFileSuffix = ".state.json"

// FileStateStore implements domain.StateStore using a JSON file next to the configuration.
type FileStateStore struct {
	path string
}

// NewFileStateStore creates a state store colocated with the configuration file.
func NewFileStateStore(configPath string) *FileStateStore {
	return &FileStateStore{path: configPath + StateFileSuffix}
}

// NewFileStateStoreWithPath creates a state store at a specific path (for testing).
func NewFileStateStoreWithPath(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path returns the state file path.
func (s *FileStateStore) Path() string {
	return s.path
}

// Load returns the persisted state. A missing or unreadable file yields a zero state.
func (s *FileStateStore) Load() domain.RunState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.RunState{}
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.RunState{}
	}
	if state.LastProfile != nil && *state.LastProfile == "" {
		state.LastProfile = nil
	}
	return state
}

// Save overwrites the state file atomically (write + rename).
// A nil profile records a Core-only run.
func (s *FileStateStore) Save(profile *string, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(domain.RunState{LastProfile: profile, LastRun: at}, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Ensure FileStateStore implements domain.StateStore.
var _ domain.StateStore = (*FileStateStore)(nil)
