package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"watchlist-service/internal/handler"
	"watchlist-service/internal/middleware"
)

var swaggerPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (default)",
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&swaggerPath, "swagger", "docs/swagger.yaml", "OpenAPI document served at /swagger")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := handler.AppOptions{
		APIToken:  a.cfg.APIToken,
		AccessLog: true,
	}

	if a.rdb != nil && a.cfg.RateLimit.Max > 0 {
		opts.RateLimiter = middleware.NewRateLimiter(a.rdb, a.cfg.RateLimit.Max, a.cfg.RateLimit.WindowSeconds)
	}

	// Swagger docs
	swaggerYAML, err := os.ReadFile(swaggerPath)
	if err != nil {
		slog.Warn("swagger.yaml not found, swagger UI will be unavailable", "error", err)
	} else {
		opts.SwaggerYAML = swaggerYAML
	}

	h := handler.NewProjectHandler(a.svc, a.cfg.Store.Backend, a.cfg.Debug)
	srv := handler.NewApp(h, opts)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutting down watchlist service...")
		_ = srv.Shutdown()
	}()

	addr := ":" + a.cfg.Port
	slog.Info("starting watchlist service",
		"addr", addr,
		"backend", a.cfg.Store.Backend,
		"cache", a.rdb != nil,
		"debug", a.cfg.Debug,
	)
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
