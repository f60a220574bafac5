package repository

import (
	"fmt"

	"watchlist-service/internal/config"
	"watchlist-service/internal/database"
)

// Open builds the project store selected by cfg.Backend. It is called once
// at startup and the store is held for the life of the process.
func Open(cfg config.StoreConfig, db config.DBConfig) (ProjectStore, error) {
	var (
		store ProjectStore
		err   error
	)

	switch cfg.Backend {
	case config.BackendFile:
		store, err = NewFileStore(cfg.JSONFile)
	case config.BackendSQLite:
		conn, openErr := database.NewSQLite(cfg.SQLitePath)
		if openErr != nil {
			return nil, openErr
		}
		store = NewSQLiteStore(conn)
	case config.BackendPostgres:
		conn, openErr := database.NewPostgres(db)
		if openErr != nil {
			return nil, openErr
		}
		store = NewPostgresStore(conn)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return WithMetrics(store, cfg.Backend), nil
}
