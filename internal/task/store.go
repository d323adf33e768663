package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists classified tasks. Tasks are created once per request and
// never deleted; a resumed orchestrator instance reloads them from here.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a task store rooted at baseDir/tasks.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	dir := filepath.Join(baseDir, "tasks")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create task directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save persists a task.
func (s *Store) Save(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	path := filepath.Join(s.dir, t.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write task: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename task: %w", err)
	}
	return nil
}

// Load reads a task by ID.
func (s *Store) Load(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("task %s corrupted: %w", id, err)
	}
	return &t, nil
}
