package handler

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"watchlist-service/internal/middleware"
)

// AppOptions configures the optional parts of the HTTP app.
type AppOptions struct {
	// RateLimiter is installed in front of every route when set.
	RateLimiter *middleware.RateLimiter

	// SwaggerYAML enables the Swagger UI when non-empty.
	SwaggerYAML []byte

	// APIToken guards every write with a bearer token when non-empty.
	APIToken string

	AccessLog bool
}

// NewApp creates the Fiber app with middleware and all routes mounted.
func NewApp(h *ProjectHandler, opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Watchlist Service",
		ServerHeader: "Watchlist-Service",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				slog.Error("unhandled error", "error", err, "status", code)
			}
			return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	if opts.AccessLog {
		app.Use(logger.New())
	}
	// The UI is hosted on a different origin
	app.Use(cors.New())
	app.Use(middleware.Prometheus())
	if opts.RateLimiter != nil {
		app.Use(opts.RateLimiter.Handler())
	}
	if opts.APIToken != "" {
		app.Use(middleware.WriteAuth(opts.APIToken))
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	if len(opts.SwaggerYAML) > 0 {
		RegisterSwagger(app, opts.SwaggerYAML)
	}

	h.Register(app)
	return app
}
