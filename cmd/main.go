package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"watchlist-service/internal/config"
	"watchlist-service/internal/database"
	"watchlist-service/internal/repository"
	"watchlist-service/internal/service"
)

// Version is set at build time.
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "watchlist-service",
	Short: "Watchlist Service - movie and series tracking API",
	Long: `Watchlist Service keeps a shared list of movies and series,
who rated them, and which ones have been watched.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("watchlist-service %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug level logging")

	rootCmd.AddCommand(serveCmd, importCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// app holds the layers shared by every command.
type app struct {
	cfg   *config.Config
	store repository.ProjectStore
	rdb   *redis.Client
	svc   *service.ProjectService
}

func newApp() (*app, error) {
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := repository.Open(cfg.Store, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	// Redis is optional and non-fatal if unavailable
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.NewRedis(cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, running without cache", "error", err)
			rdb = nil
		}
	}

	return &app{
		cfg:   cfg,
		store: store,
		rdb:   rdb,
		svc:   service.NewProjectService(store, rdb, cfg.Projects, cfg.Redis.CacheTTL),
	}, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if err := a.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
}
