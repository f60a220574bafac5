package repository

import (
	"context"
	"errors"

	"watchlist-service/internal/metrics"
	"watchlist-service/internal/models"
)

// instrumentedStore counts every call of the wrapped store.
type instrumentedStore struct {
	next    ProjectStore
	backend string
}

// WithMetrics wraps store so each operation is recorded under backend.
func WithMetrics(store ProjectStore, backend string) ProjectStore {
	return &instrumentedStore{next: store, backend: backend}
}

func (s *instrumentedStore) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrConflict):
		result = "conflict"
	default:
		result = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(s.backend, op, result).Inc()
}

func (s *instrumentedStore) List(ctx context.Context) ([]models.Project, error) {
	projects, err := s.next.List(ctx)
	s.observe("list", err)
	return projects, err
}

func (s *instrumentedStore) Get(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.next.Get(ctx, id)
	s.observe("get", err)
	return p, err
}

func (s *instrumentedStore) Insert(ctx context.Context, p *models.Project) error {
	err := s.next.Insert(ctx, p)
	s.observe("insert", err)
	return err
}

func (s *instrumentedStore) Update(ctx context.Context, id string, patch models.Patch) (*models.Project, error) {
	p, err := s.next.Update(ctx, id, patch)
	s.observe("update", err)
	return p, err
}

func (s *instrumentedStore) Delete(ctx context.Context, id string) error {
	err := s.next.Delete(ctx, id)
	s.observe("delete", err)
	return err
}

func (s *instrumentedStore) Reset(ctx context.Context) error {
	err := s.next.Reset(ctx)
	s.observe("reset", err)
	return err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
