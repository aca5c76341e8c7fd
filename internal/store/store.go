// Package store persists per-document viewer state.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/pdfview/internal/fit"
	"github.com/ivlev/pdfview/internal/layout"
	"github.com/ivlev/pdfview/internal/render"
)

// State is what the viewer restores when a document is reopened.
type State struct {
	Layout   layout.Policy `yaml:"layout"`
	Scale    float64       `yaml:"scale"`
	Rotation int           `yaml:"rotation"`
	Flip     bool          `yaml:"flip"`
	Color    render.Color  `yaml:"color"`
	Page     int           `yaml:"page"`
	Fit      fit.Policy    `yaml:"fit"`
}

// Store is a key/value store of states keyed by document.
type Store interface {
	Load(key string) (State, bool, error)
	Save(key string, st State) error
}

type document struct {
	Documents map[string]State `yaml:"documents"`
}

// FileStore keeps every document's state in one YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(key string) (State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return State{}, false, err
	}
	st, ok := doc.Documents[key]
	return st, ok, nil
}

func (f *FileStore) Save(key string, st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Documents[key] = st
	return f.write(doc)
}

func (f *FileStore) read() (*document, error) {
	doc := &document{}
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading state: %w", err)
	default:
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("parsing state %s: %w", f.path, err)
		}
	}
	if doc.Documents == nil {
		doc.Documents = make(map[string]State)
	}
	return doc, nil
}

// write replaces the file atomically so a crash never leaves half a file.
func (f *FileStore) write(doc *document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

// MemoryStore keeps states in memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
	saves  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(key string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	return st, ok, nil
}

func (m *MemoryStore) Save(key string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = st
	m.saves++
	return nil
}

// Saves counts successful Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
