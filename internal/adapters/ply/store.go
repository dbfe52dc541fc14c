package ply

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Store implements ports.MeshStore over a scene directory. Names are
// slash-separated paths relative to the directory, e.g. "mesh/ground.ply".
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the scene directory.
func (s *Store) Dir() string { return s.dir }

// List returns the names matching a glob pattern, sorted.
func (s *Store) List(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", pattern, err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(s.dir, m)
		if err != nil {
			return nil, err
		}
		names = append(names, filepath.ToSlash(rel))
	}
	sort.Strings(names)
	return names, nil
}

// Load decodes a mesh file.
func (s *Store) Load(name string) (*domain.Mesh, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("open mesh %s: %w", name, err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode mesh %s: %w", name, err)
	}
	return m, nil
}

// Save writes a mesh atomically: readers see either the old or the new file.
func (s *Store) Save(name string, m *domain.Mesh) error {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create mesh dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.ply")
	if err != nil {
		return fmt.Errorf("create temp mesh: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, m); err != nil {
		tmp.Close()
		return fmt.Errorf("encode mesh %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close mesh %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename mesh %s: %w", name, err)
	}
	return nil
}

// Remove deletes a mesh file. Missing files are not an error.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove mesh %s: %w", name, err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}
