package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/solaius/model-harvester/pkg/objstore"
)

// StateVersion is written into every persisted harvest state record.
const StateVersion = "1.0"

// maxStateFileSize bounds the state file read from disk (4 MiB).
const maxStateFileSize = 4 << 20

// ErrPathTraversal is returned when a state path contains ".." components.
var ErrPathTraversal = errors.New("state path contains path traversal")

// SourceState is the rotational cursor of one source.
type SourceState struct {
	Offset    int       `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the persisted harvest state record. It is safe for concurrent use.
type State struct {
	mu sync.Mutex

	LastRun map[string]SourceState `json:"lastRun"`
	Version string                 `json:"version"`
	Global  *time.Time             `json:"global,omitempty"`
}

// NewState returns an empty state record.
func NewState() *State {
	return &State{LastRun: make(map[string]SourceState), Version: StateVersion}
}

// Get returns the cursor of source; the zero value when it never ran.
func (s *State) Get(source string) SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastRun[source]
}

// Set replaces the cursor of source.
func (s *State) Set(source string, st SourceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastRun == nil {
		s.LastRun = make(map[string]SourceState)
	}
	s.LastRun[source] = st
}

// MarkRun stamps the global last-run time.
func (s *State) MarkRun(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = t.UTC()
	s.Global = &t
}

func (s *State) marshal() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Version == "" {
		s.Version = StateVersion
	}
	return json.MarshalIndent(s, "", "  ")
}

func parseState(data []byte) (*State, error) {
	st := NewState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, err
	}
	if st.LastRun == nil {
		st.LastRun = make(map[string]SourceState)
	}
	return st, nil
}

// StateStore loads and saves the harvest state record as a whole.
type StateStore interface {
	// Load returns the stored state, or an empty one if none exists yet.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
}

// FileStateStore keeps the state record in a local JSON file.
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStateStore creates a FileStateStore for path. The file need not exist.
func NewFileStateStore(path string) (*FileStateStore, error) {
	for _, part := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		if part == ".." {
			return nil, ErrPathTraversal
		}
	}
	return &FileStateStore{path: path}, nil
}

// Path returns the file path managed by this store.
func (s *FileStateStore) Path() string {
	return s.path
}

func (s *FileStateStore) Load(_ context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state store: failed to read %s: %w", s.path, err)
	}
	if len(data) > maxStateFileSize {
		return nil, fmt.Errorf("state store: %s exceeds %d bytes", s.path, maxStateFileSize)
	}
	st, err := parseState(data)
	if err != nil {
		return nil, fmt.Errorf("state store: failed to parse %s: %w", s.path, err)
	}
	return st, nil
}

// Save writes the record atomically: temp file, fsync, rename.
func (s *FileStateStore) Save(_ context.Context, st *State) error {
	data, err := st.marshal()
	if err != nil {
		return fmt.Errorf("state store: failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state store: failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".harvest-state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("state store: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("state store: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("state store: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state store: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("state store: failed to rename temp file: %w", err)
	}
	tmpName = ""
	return nil
}

// ObjectStateStore keeps the state record under one object store key.
type ObjectStateStore struct {
	store objstore.Store
	key   string
}

// NewObjectStateStore creates an ObjectStateStore.
func NewObjectStateStore(store objstore.Store, key string) *ObjectStateStore {
	return &ObjectStateStore{store: store, key: key}
}

func (s *ObjectStateStore) Load(ctx context.Context) (*State, error) {
	data, err := s.store.Get(ctx, s.key)
	if errors.Is(err, objstore.ErrNotFound) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	st, err := parseState(data)
	if err != nil {
		return nil, fmt.Errorf("state store: failed to parse %s: %w", s.key, err)
	}
	return st, nil
}

func (s *ObjectStateStore) Save(ctx context.Context, st *State) error {
	data, err := st.marshal()
	if err != nil {
		return fmt.Errorf("state store: failed to marshal state: %w", err)
	}
	if err := s.store.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	return nil
}
