package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"watchlist-service/internal/config"
	"watchlist-service/internal/models"
	"watchlist-service/internal/repository"
)

const (
	listCacheKey  = "projects:list"
	statsCacheKey = "projects:stats"
)

var (
	// ErrValidation marks a request that is malformed or missing required fields.
	ErrValidation = errors.New("invalid project")
	// ErrNotFound marks an unknown project id.
	ErrNotFound = errors.New("project not found")
	// ErrConflict marks a create with an id that is already taken.
	ErrConflict = errors.New("project already exists")
)

// ProjectService handles business logic for projects.
type ProjectService struct {
	store    repository.ProjectStore
	redis    *redis.Client
	cfg      config.ProjectConfig
	cacheTTL time.Duration
	now      func() time.Time
}

// NewProjectService creates a new ProjectService. rdb may be nil, in which
// case reads always go to the store.
func NewProjectService(store repository.ProjectStore, rdb *redis.Client, cfg config.ProjectConfig, cacheTTL time.Duration) *ProjectService {
	return &ProjectService{
		store:    store,
		redis:    rdb,
		cfg:      cfg,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Create validates fields, fills in defaults for absent keys and stores the
// new project.
func (s *ProjectService) Create(ctx context.Context, fields models.Patch) (*models.Project, error) {
	id, err := requireID(fields)
	if err != nil {
		return nil, err
	}

	p := &models.Project{ID: id}
	if err := p.Apply(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !fields.Has(models.FieldType) {
		p.Type = s.cfg.DefaultType
	}
	p.Ratings = p.Ratings.Backfill(s.cfg.Raters)

	if err := s.store.Insert(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, id)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.invalidateCache(ctx)
	slog.Info("project created", "id", id)
	return p, nil
}

// List returns every project.
func (s *ProjectService) List(ctx context.Context) ([]models.Project, error) {
	if cached, err := s.getFromCache(ctx, listCacheKey); err == nil {
		var projects []models.Project
		if json.Unmarshal([]byte(cached), &projects) == nil {
			slog.Debug("cache hit", "key", listCacheKey)
			return projects, nil
		}
	}

	projects, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	if data, err := json.Marshal(projects); err == nil {
		s.setCache(ctx, listCacheKey, string(data))
	}
	return projects, nil
}

// ListWatched returns the projects marked as watched.
func (s *ProjectService) ListWatched(ctx context.Context) ([]models.Project, error) {
	projects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	watched := make([]models.Project, 0, len(projects))
	for _, p := range projects {
		if p.Watched {
			watched = append(watched, p)
		}
	}
	return watched, nil
}

// Get returns one project by id.
func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "get")
	}
	return p, nil
}

// Update shallow-merges patch into the project. Setting watched to true
// stamps watchedDate unless one is already present; setting it to false
// leaves the date alone.
func (s *ProjectService) Update(ctx context.Context, id string, patch models.Patch) (*models.Project, error) {
	if patch.Has(models.FieldID) {
		var patchID string
		if err := json.Unmarshal(patch[models.FieldID], &patchID); err != nil || patchID != id {
			return nil, fmt.Errorf("%w: id cannot be changed", ErrValidation)
		}
		delete(patch, models.FieldID)
	}

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "get")
	}

	merged := existing.Clone()
	if err := merged.Apply(patch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if patch.Has(models.FieldRatings) {
		if err := patch.Set(models.FieldRatings, merged.Ratings.Backfill(s.cfg.Raters)); err != nil {
			return nil, err
		}
	}
	if watched, ok := patch.Bool(models.FieldWatched); ok && watched && !merged.IsWatchedDateSet() {
		if err := patch.Set(models.FieldWatchedDate, s.today()); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, s.storeError(err, id, "update")
	}

	s.invalidateCache(ctx)
	return updated, nil
}

// UpdateRatings merges scores into the project's ratings. The first non-null
// score on an unwatched project marks it watched.
func (s *ProjectService) UpdateRatings(ctx context.Context, id string, scores models.Ratings) (models.Ratings, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "get")
	}

	ratings := existing.Ratings.Clone()
	if ratings == nil {
		ratings = make(models.Ratings, len(scores))
	}
	for rater, score := range scores {
		ratings[rater] = score
	}
	ratings = ratings.Backfill(s.cfg.Raters)

	patch := models.Patch{}
	if err := patch.Set(models.FieldRatings, ratings); err != nil {
		return nil, err
	}
	if ratings.HasScore() && !existing.Watched {
		marked := existing.Clone()
		marked.MarkWatched(s.now())
		if err := patch.Set(models.FieldWatched, true); err != nil {
			return nil, err
		}
		if err := patch.Set(models.FieldWatchedDate, marked.WatchedDate); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, s.storeError(err, id, "update ratings")
	}

	s.invalidateCache(ctx)
	return updated.Ratings, nil
}

// Delete removes a project by id.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return s.storeError(err, id, "delete")
	}

	s.invalidateCache(ctx)
	slog.Info("project deleted", "id", id)
	return nil
}

// Stats aggregates counts over all projects.
func (s *ProjectService) Stats(ctx context.Context) (*models.Stats, error) {
	if cached, err := s.getFromCache(ctx, statsCacheKey); err == nil {
		var stats models.Stats
		if json.Unmarshal([]byte(cached), &stats) == nil {
			return &stats, nil
		}
	}

	projects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.Stats{
		Total:  len(projects),
		ByType: make(map[string]int),
	}
	for _, p := range projects {
		if p.Watched {
			stats.Watched++
		}
		if p.InProgress {
			stats.InProgress++
		}
		t := p.Type
		if !p.HasType() {
			t = s.cfg.DefaultType
		}
		stats.ByType[t]++
	}

	if data, err := json.Marshal(stats); err == nil {
		s.setCache(ctx, statsCacheKey, string(data))
	}
	return stats, nil
}

// Reset removes every project.
func (s *ProjectService) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset projects: %w", err)
	}

	s.invalidateCache(ctx)
	slog.Warn("all projects removed")
	return nil
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import creates every record through Create. Records whose id already
// exists are skipped; any other failure stops the import.
func (s *ProjectService) Import(ctx context.Context, records []models.Patch) (ImportResult, error) {
	var res ImportResult
	for i, fields := range records {
		if _, err := s.Create(ctx, fields); err != nil {
			if errors.Is(err, ErrConflict) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("record %d: %w", i, err)
		}
		res.Imported++
	}

	slog.Info("import completed", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

func (s *ProjectService) today() string {
	return s.now().Format(models.DateLayout)
}

// storeError translates repository errors into service errors.
func (s *ProjectService) storeError(err error, id, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("failed to %s project %s: %w", op, id, err)
}

func requireID(fields models.Patch) (string, error) {
	raw, ok := fields[models.FieldID]
	if !ok || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing id", ErrValidation)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: id must be a string", ErrValidation)
	}
	if id == "" {
		return "", fmt.Errorf("%w: missing id", ErrValidation)
	}
	return id, nil
}

// ---- Redis Helpers ----

func (s *ProjectService) getFromCache(ctx context.Context, key string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("redis not available")
	}
	return s.redis.Get(ctx, key).Result()
}

func (s *ProjectService) setCache(ctx context.Context, key, value string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, key, value, s.cacheTTL).Err(); err != nil {
		slog.Error("failed to set cache", "key", key, "error", err)
	}
}

func (s *ProjectService) invalidateCache(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, listCacheKey, statsCacheKey).Err(); err != nil {
		slog.Error("failed to invalidate cache", "error", err)
	}
}
