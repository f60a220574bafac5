package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"watchlist-service/internal/models"
)

// sqlQueries holds the dialect-specific statements of a SQLStore.
type sqlQueries struct {
	list      string
	get       string
	getLocked string
	insert    string
	update    string
	delete    string
	reset     string
}

var postgresQueries = sqlQueries{
	list:      `SELECT data FROM projects ORDER BY created_at DESC, id DESC`,
	get:       `SELECT data FROM projects WHERE id = $1`,
	getLocked: `SELECT data FROM projects WHERE id = $1 FOR UPDATE`,
	insert: `
		INSERT INTO projects (id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
	update: `UPDATE projects SET data = $1, updated_at = $2 WHERE id = $3`,
	delete: `DELETE FROM projects WHERE id = $1`,
	reset:  `DELETE FROM projects`,
}

// SQLite serialises writers, so the plain read inside a transaction is enough.
var sqliteQueries = sqlQueries{
	list:      `SELECT data FROM projects ORDER BY created_at DESC, rowid DESC`,
	get:       `SELECT data FROM projects WHERE id = ?`,
	getLocked: `SELECT data FROM projects WHERE id = ?`,
	insert: `
		INSERT INTO projects (id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
	update: `UPDATE projects SET data = ?, updated_at = ? WHERE id = ?`,
	delete: `DELETE FROM projects WHERE id = ?`,
	reset:  `DELETE FROM projects`,
}

// SQLStore keeps each project as a JSON document in a row keyed by id.
type SQLStore struct {
	db *sql.DB
	q  sqlQueries
}

var _ ProjectStore = (*SQLStore)(nil)

// NewPostgresStore creates a store over a migrated PostgreSQL database.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: postgresQueries}
}

// NewSQLiteStore creates a store over a migrated SQLite database.
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: sqliteQueries}
}

// List returns all projects, newest first.
func (s *SQLStore) List(ctx context.Context) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list)
	if err != nil {
		return nil, fmt.Errorf("list query failed: %w", err)
	}
	defer rows.Close()

	projects := make([]models.Project, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		var p models.Project
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// Get returns the project with the given id.
func (s *SQLStore) Get(ctx context.Context, id string) (*models.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, s.q.get, id), id)
}

// Insert stores p, failing with ErrConflict when the id is taken.
func (s *SQLStore) Insert(ctx context.Context, p *models.Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", p.ID, err)
	}

	// JSON goes in as text: lib/pq would send []byte as bytea.
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q.insert, p.ID, string(data), now, now)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Update merges patch into the stored document inside one transaction.
func (s *SQLStore) Update(ctx context.Context, id string, patch models.Patch) (*models.Project, error) {
	var updated *models.Project
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		p, err := scanProject(tx.QueryRowContext(ctx, s.q.getLocked, id), id)
		if err != nil {
			return err
		}
		if err := p.Apply(patch); err != nil {
			return fmt.Errorf("merge project %s: %w", id, err)
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode project %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.q.update, string(data), time.Now().UTC(), id); err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the project with the given id.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q.delete, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset removes every row.
func (s *SQLStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.reset); err != nil {
		return fmt.Errorf("reset projects: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func scanProject(row *sql.Row, id string) (*models.Project, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}

	var p models.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", id, err)
	}
	return &p, nil
}

// WithTx runs fn inside a SQL transaction, rolling back on error.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}
