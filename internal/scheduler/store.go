package scheduler

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// TaskStore persists TaskRecords to a YAML file (spec §4.9). It is the
// source of truth across restarts; Monitor mirrors successful task
// definitions into Artifact Memory separately so they are also
// retrievable and reusable as `plan` artifacts.
type TaskStore struct {
	path string

	mu    sync.Mutex
	tasks map[string]*TaskRecord
}

// NewTaskStore creates a store backed by path, loading any tasks already
// persisted there.
func NewTaskStore(path string) (*TaskStore, error) {
	s := &TaskStore{path: path, tasks: map[string]*TaskRecord{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TaskStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ferrors.Wrap(ferrors.CodeStorageUnavailable, "reading task store", err)
	}
	var records []*TaskRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return ferrors.Wrap(ferrors.CodeStorageUnavailable, "parsing task store", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range records {
		if err := t.rehydrateSchedule(); err != nil {
			return err
		}
		s.tasks[t.Name] = t
	}
	return nil
}

func (s *TaskStore) persist() error {
	records := make([]*TaskRecord, 0, len(s.tasks))
	for _, t := range s.tasks {
		records = append(records, t)
	}
	data, err := yaml.Marshal(records)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeStorageUnavailable, "encoding task store", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return ferrors.Wrap(ferrors.CodeStorageUnavailable, "writing task store", err)
	}
	return nil
}

// Put adds a new task and persists the store. A task whose name is already
// in the store is rejected with CodeValidationError and nothing is replaced.
func (s *TaskStore) Put(t *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.Name]; exists {
		return ferrors.New(ferrors.CodeValidationError, fmt.Sprintf("task %q already exists", t.Name))
	}
	s.tasks[t.Name] = t
	return s.persist()
}

// Get returns the named task.
func (s *TaskStore) Get(name string) (*TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// List returns every task in the store, in no particular order.
func (s *TaskStore) List() []*TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TaskRecord, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// Delete removes a task from the store.
func (s *TaskStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
	return s.persist()
}

// save persists the current in-memory state, used after in-place mutations
// made through a pointer returned by Get/List (e.g. recordSuccess/recordFailure).
func (s *TaskStore) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}
