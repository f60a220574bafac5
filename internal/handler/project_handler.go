package handler

import (
	"errors"
	"log/slog"
	"net/url"

	"github.com/gofiber/fiber/v3"

	"watchlist-service/internal/models"
	"watchlist-service/internal/service"
)

// ProjectHandler handles HTTP requests for projects.
type ProjectHandler struct {
	svc     *service.ProjectService
	backend string
	debug   bool
}

// NewProjectHandler creates a new ProjectHandler. debug enables the reset endpoint.
func NewProjectHandler(svc *service.ProjectService, backend string, debug bool) *ProjectHandler {
	return &ProjectHandler{svc: svc, backend: backend, debug: debug}
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register mounts the project routes on r.
func (h *ProjectHandler) Register(r fiber.Router) {
	r.Get("/", h.Home)
	r.Get("/health", h.Health)
	r.Get("/projects", h.ListProjects)
	r.Post("/projects", h.CreateProject)
	r.Get("/projects/:id", h.GetProject)
	r.Put("/projects/:id", h.UpdateProject)
	r.Delete("/projects/:id", h.DeleteProject)
	r.Put("/projects/:id/ratings", h.UpdateRatings)
	r.Get("/watched", h.ListWatched)
	r.Get("/stats", h.Stats)
	r.Post("/reset", h.Reset)
}

// Home describes the available endpoints.
// @Summary Service info
// @Tags info
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *ProjectHandler) Home(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "watchlist service is running",
		"endpoints": fiber.Map{
			"GET /projects":              "list all projects",
			"POST /projects":             "create a project",
			"GET /projects/<id>":         "get a project by id",
			"PUT /projects/<id>":         "update a project",
			"PUT /projects/<id>/ratings": "update a project's ratings",
			"DELETE /projects/<id>":      "delete a project",
			"GET /watched":               "list watched projects",
			"GET /stats":                 "project statistics",
		},
	})
}

// Health returns service health status.
func (h *ProjectHandler) Health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "watchlist-service",
		"backend": h.backend,
	})
}

// ListProjects returns every project.
// @Summary List projects
// @Tags projects
// @Produce json
// @Success 200 {array} models.Project
// @Failure 500 {object} ErrorResponse
// @Router /projects [get]
func (h *ProjectHandler) ListProjects(c fiber.Ctx) error {
	projects, err := h.svc.List(c.Context())
	if err != nil {
		return h.fail(c, err, "failed to list projects")
	}
	return c.JSON(projects)
}

// ListWatched returns the projects marked as watched.
// @Summary List watched projects
// @Tags projects
// @Produce json
// @Success 200 {array} models.Project
// @Failure 500 {object} ErrorResponse
// @Router /watched [get]
func (h *ProjectHandler) ListWatched(c fiber.Ctx) error {
	projects, err := h.svc.ListWatched(c.Context())
	if err != nil {
		return h.fail(c, err, "failed to list watched projects")
	}
	return c.JSON(projects)
}

// GetProject returns a single project.
// @Summary Get project
// @Tags projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} models.Project
// @Failure 404 {object} ErrorResponse
// @Router /projects/{id} [get]
func (h *ProjectHandler) GetProject(c fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid project id"})
	}

	p, err := h.svc.Get(c.Context(), id)
	if err != nil {
		return h.fail(c, err, "failed to get project")
	}
	return c.JSON(p)
}

// CreateProject creates a new project.
// @Summary Create project
// @Tags projects
// @Accept json
// @Produce json
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /projects [post]
func (h *ProjectHandler) CreateProject(c fiber.Ctx) error {
	fields, err := decodeObject(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	p, err := h.svc.Create(c.Context(), fields)
	if err != nil {
		return h.fail(c, err, "failed to create project")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "ok",
		"message": "project created",
		"project": p,
	})
}

// UpdateProject merges the given fields into a project.
// @Summary Update project
// @Tags projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /projects/{id} [put]
func (h *ProjectHandler) UpdateProject(c fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid project id"})
	}

	fields, err := decodeObject(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	p, err := h.svc.Update(c.Context(), id, fields)
	if err != nil {
		return h.fail(c, err, "failed to update project")
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "project updated",
		"project": p,
	})
}

// UpdateRatings merges rater scores into a project's ratings.
// @Summary Update ratings
// @Tags projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /projects/{id}/ratings [put]
func (h *ProjectHandler) UpdateRatings(c fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid project id"})
	}

	var scores models.Ratings
	if err := c.Bind().JSON(&scores); err != nil || scores == nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid ratings body"})
	}

	ratings, err := h.svc.UpdateRatings(c.Context(), id, scores)
	if err != nil {
		return h.fail(c, err, "failed to update ratings")
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "ratings updated",
		"ratings": ratings,
	})
}

// DeleteProject removes a project.
// @Summary Delete project
// @Tags projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /projects/{id} [delete]
func (h *ProjectHandler) DeleteProject(c fiber.Ctx) error {
	id, err := projectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid project id"})
	}

	if err := h.svc.Delete(c.Context(), id); err != nil {
		return h.fail(c, err, "failed to delete project")
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "project deleted",
	})
}

// Stats returns aggregate counts.
// @Summary Project statistics
// @Tags projects
// @Produce json
// @Success 200 {object} models.Stats
// @Router /stats [get]
func (h *ProjectHandler) Stats(c fiber.Ctx) error {
	stats, err := h.svc.Stats(c.Context())
	if err != nil {
		return h.fail(c, err, "failed to compute stats")
	}
	return c.JSON(stats)
}

// Reset removes every project. Only available in debug mode.
func (h *ProjectHandler) Reset(c fiber.Ctx) error {
	if !h.debug {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "access denied"})
	}
	if err := h.svc.Reset(c.Context()); err != nil {
		return h.fail(c, err, "failed to reset projects")
	}
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "all projects removed",
	})
}

// fail maps service errors to status codes. Unexpected errors are logged and
// reported with a generic message.
func (h *ProjectHandler) fail(c fiber.Ctx, err error, msg string) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	slog.Error(msg, "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: msg})
}

// projectID returns the :id path parameter with percent-escapes decoded.
func projectID(c fiber.Ctx) (string, error) {
	return url.PathUnescape(c.Params("id"))
}

// decodeObject parses the request body as a JSON object.
func decodeObject(c fiber.Ctx) (models.Patch, error) {
	var fields models.Patch
	if err := c.Bind().JSON(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("body must be a JSON object")
	}
	return fields, nil
}
