package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"

	"watchlist-service/internal/models"
)

// FileStore keeps all projects in a single JSON array document.
// Every mutation rewrites the whole file under an exclusive lock file so that
// several processes sharing the document do not interleave their writes.
type FileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

var _ ProjectStore = (*FileStore)(nil)

// NewFileStore opens the document at path, creating an empty one if missing.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	s := &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(func([]models.Project) ([]models.Project, error) {
			return []models.Project{}, nil
		}); err != nil {
			return nil, err
		}
		slog.Info("created empty project file", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return s, nil
}

// List returns the projects in insertion order.
func (s *FileStore) List(_ context.Context) ([]models.Project, error) {
	var out []models.Project
	err := s.read(func(projects []models.Project) error {
		out = projects
		return nil
	})
	if out == nil && err == nil {
		out = []models.Project{}
	}
	return out, err
}

// Get returns the project with the given id.
func (s *FileStore) Get(_ context.Context, id string) (*models.Project, error) {
	var found *models.Project
	err := s.read(func(projects []models.Project) error {
		i := indexOf(projects, id)
		if i < 0 {
			return ErrNotFound
		}
		found = &projects[i]
		return nil
	})
	return found, err
}

// Insert appends p to the document.
func (s *FileStore) Insert(_ context.Context, p *models.Project) error {
	return s.write(func(projects []models.Project) ([]models.Project, error) {
		if indexOf(projects, p.ID) >= 0 {
			return nil, ErrConflict
		}
		return append(projects, *p.Clone()), nil
	})
}

// Update merges patch into the stored project.
func (s *FileStore) Update(_ context.Context, id string, patch models.Patch) (*models.Project, error) {
	var updated *models.Project
	err := s.write(func(projects []models.Project) ([]models.Project, error) {
		i := indexOf(projects, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		if err := projects[i].Apply(patch); err != nil {
			return nil, fmt.Errorf("merge project %s: %w", id, err)
		}
		updated = projects[i].Clone()
		return projects, nil
	})
	return updated, err
}

// Delete removes the project with the given id.
func (s *FileStore) Delete(_ context.Context, id string) error {
	return s.write(func(projects []models.Project) ([]models.Project, error) {
		i := indexOf(projects, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(projects, i, i+1), nil
	})
}

// Reset truncates the document to an empty array.
func (s *FileStore) Reset(_ context.Context) error {
	return s.write(func([]models.Project) ([]models.Project, error) {
		return []models.Project{}, nil
	})
}

// Close releases the lock file handle.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) read(fn func([]models.Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	projects, err := s.load()
	if err != nil {
		return err
	}
	return fn(projects)
}

// write loads the document, hands it to fn and saves whatever fn returns.
// Nothing is written when fn fails.
func (s *FileStore) write(fn func([]models.Project) ([]models.Project, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	projects, err := s.load()
	if err != nil {
		return err
	}
	projects, err = fn(projects)
	if err != nil {
		return err
	}
	return s.save(projects)
}

func (s *FileStore) load() ([]models.Project, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var projects []models.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return projects, nil
}

// save writes to a temp file in the same directory and renames it over the
// document, so readers never observe a half-written file.
func (s *FileStore) save(projects []models.Project) error {
	if projects == nil {
		projects = []models.Project{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(projects); err != nil {
		return fmt.Errorf("encode projects: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func indexOf(projects []models.Project, id string) int {
	return slices.IndexFunc(projects, func(p models.Project) bool {
		return p.ID == id
	})
}
