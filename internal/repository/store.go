package repository

import (
	"context"
	"errors"

	"watchlist-service/internal/models"
)

var (
	// ErrNotFound is returned when no project has the requested id.
	ErrNotFound = errors.New("project not found")
	// ErrConflict is returned when inserting an id that already exists.
	ErrConflict = errors.New("project already exists")
)

// ProjectStore persists project records. Implementations are interchangeable;
// any error other than ErrNotFound or ErrConflict is a storage failure.
type ProjectStore interface {
	// List returns every project, newest first where the backend records
	// creation time and in insertion order otherwise.
	List(ctx context.Context) ([]models.Project, error)
	Get(ctx context.Context, id string) (*models.Project, error)
	Insert(ctx context.Context, p *models.Project) error
	// Update shallow-merges patch into the stored project and returns the result.
	Update(ctx context.Context, id string, patch models.Patch) (*models.Project, error)
	Delete(ctx context.Context, id string) error
	// Reset removes every project.
	Reset(ctx context.Context) error
	Close() error
}
