package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchlist-service/internal/config"
	"watchlist-service/internal/middleware"
	"watchlist-service/internal/models"
	"watchlist-service/internal/repository"
	"watchlist-service/internal/service"
)

func setupTestApp(t *testing.T, debug bool) *fiber.App {
	t.Helper()

	store, err := repository.NewFileStore(filepath.Join(t.TempDir(), "projects.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.NewProjectService(store, nil, config.ProjectConfig{
		Raters:      []string{"r1", "r2", "r3"},
		DefaultType: "Фильм",
	}, time.Minute)

	return NewApp(NewProjectHandler(svc, config.BackendFile, debug), AppOptions{
		SwaggerYAML: []byte("openapi: 3.0.3\n"),
	})
}

func setupCachedTestApp(t *testing.T, rateLimitMax int) *fiber.App {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := repository.NewFileStore(filepath.Join(t.TempDir(), "projects.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.NewProjectService(store, rdb, config.ProjectConfig{
		Raters:      []string{"r1", "r2"},
		DefaultType: "Фильм",
	}, time.Minute)

	opts := AppOptions{}
	if rateLimitMax > 0 {
		opts.RateLimiter = middleware.NewRateLimiter(rdb, rateLimitMax, 60)
	}
	return NewApp(NewProjectHandler(svc, config.BackendFile, false), opts)
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHome(t *testing.T) {
	app := setupTestApp(t, false)

	status, body := doRequest(t, app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)

	resp := decode[map[string]any](t, body)
	assert.Equal(t, "ok", resp["status"])
	assert.Contains(t, resp, "endpoints")
}

func TestHealth(t *testing.T) {
	app := setupTestApp(t, false)

	status, body := doRequest(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","service":"watchlist-service","backend":"file"}`, string(body))
}

func TestCreateThenRate(t *testing.T) {
	app := setupTestApp(t, false)
	today := time.Now().Format(models.DateLayout)

	status, body := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1"}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	created := decode[struct {
		Status  string          `json:"status"`
		Project json.RawMessage `json:"project"`
	}](t, body)
	assert.Equal(t, "ok", created.Status)
	assert.JSONEq(t, `{"id":"m1","type":"Фильм","watched":false,"inProgress":false,"watchedDate":null,
		"ratings":{"r1":null,"r2":null,"r3":null},"notes":""}`, string(created.Project))

	status, body = doRequest(t, app, http.MethodPut, "/projects/m1/ratings", `{"r1":8}`)
	require.Equal(t, http.StatusOK, status, string(body))

	rated := decode[struct {
		Status  string          `json:"status"`
		Ratings json.RawMessage `json:"ratings"`
	}](t, body)
	assert.Equal(t, "ok", rated.Status)
	assert.JSONEq(t, `{"r1":8,"r2":null,"r3":null}`, string(rated.Ratings))

	status, body = doRequest(t, app, http.MethodGet, "/projects/m1", "")
	require.Equal(t, http.StatusOK, status)

	p := decode[models.Project](t, body)
	assert.True(t, p.Watched)
	require.NotNil(t, p.WatchedDate)
	assert.Equal(t, today, *p.WatchedDate)
}

func TestEscapedProjectID(t *testing.T) {
	app := setupTestApp(t, false)
	const path = "/projects/%D0%94%D1%8E%D0%BD%D0%B0%202"

	status, body := doRequest(t, app, http.MethodPost, "/projects", `{"id":"Дюна 2"}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = doRequest(t, app, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Дюна 2", decode[models.Project](t, body).ID)

	status, body = doRequest(t, app, http.MethodPut, path, `{"notes":"IMAX"}`)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doRequest(t, app, http.MethodPut, path+"/ratings", `{"r2":9}`)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = doRequest(t, app, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	p := decode[models.Project](t, body)
	assert.Equal(t, "IMAX", p.Notes)
	assert.True(t, p.Watched)

	status, _ = doRequest(t, app, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, app, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreate_Duplicate(t *testing.T) {
	app := setupTestApp(t, false)

	status, _ := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1","notes":"first"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1","notes":"second"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, decode[ErrorResponse](t, body).Error, "already exists")

	_, body = doRequest(t, app, http.MethodGet, "/projects", "")
	all := decode[[]models.Project](t, body)
	require.Len(t, all, 1)
	assert.Equal(t, "first", all[0].Notes)
}

func TestCreate_BadRequests(t *testing.T) {
	app := setupTestApp(t, false)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing id", `{"notes":"x"}`, "missing id"},
		{"empty id", `{"id":""}`, "missing id"},
		{"not json", `{oops`, "invalid request body"},
		{"array body", `[{"id":"m1"}]`, "invalid request body"},
		{"null body", `null`, "invalid request body"},
		{"bad field type", `{"id":"m1","watched":"yes"}`, "watched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodPost, "/projects", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, decode[ErrorResponse](t, body).Error, tt.want)
		})
	}

	_, body := doRequest(t, app, http.MethodGet, "/projects", "")
	assert.JSONEq(t, `[]`, string(body))
}

func TestUpdateProject(t *testing.T) {
	app := setupTestApp(t, false)

	status, _ := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1","notes":"keep","director":"Lynch"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := doRequest(t, app, http.MethodPut, "/projects/m1", `{"watched":true,"inProgress":true}`)
	require.Equal(t, http.StatusOK, status, string(body))

	updated := decode[struct {
		Message string         `json:"message"`
		Project models.Project `json:"project"`
	}](t, body)
	assert.True(t, updated.Project.Watched)
	assert.True(t, updated.Project.InProgress)
	assert.Equal(t, "keep", updated.Project.Notes)
	assert.JSONEq(t, `"Lynch"`, string(updated.Project.Extra["director"]))
	require.NotNil(t, updated.Project.WatchedDate)
	assert.Equal(t, time.Now().Format(models.DateLayout), *updated.Project.WatchedDate)

	status, _ = doRequest(t, app, http.MethodPut, "/projects/missing", `{"watched":true}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodPut, "/projects/m1", `{"id":"other"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpdateRatings_Errors(t *testing.T) {
	app := setupTestApp(t, false)

	status, _ := doRequest(t, app, http.MethodPut, "/projects/missing/ratings", `{"r1":1}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1"}`)
	require.Equal(t, http.StatusCreated, status)

	for _, body := range []string{`{"r1":"ten"}`, `[1]`, `null`, `nope`} {
		status, _ = doRequest(t, app, http.MethodPut, "/projects/m1/ratings", body)
		assert.Equal(t, http.StatusBadRequest, status, body)
	}
}

func TestDeleteProject(t *testing.T) {
	app := setupTestApp(t, false)

	status, _ := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := doRequest(t, app, http.MethodDelete, "/projects/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, decode[ErrorResponse](t, body).Error)

	status, body = doRequest(t, app, http.MethodDelete, "/projects/m1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", decode[map[string]any](t, body)["status"])

	status, _ = doRequest(t, app, http.MethodGet, "/projects/m1", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWatchedAndStats(t *testing.T) {
	app := setupTestApp(t, false)

	for _, body := range []string{
		`{"id":"a","watched":true}`,
		`{"id":"b","type":"Сериал","inProgress":true}`,
		`{"id":"c"}`,
	} {
		status, _ := doRequest(t, app, http.MethodPost, "/projects", body)
		require.Equal(t, http.StatusCreated, status)
	}
	status, _ := doRequest(t, app, http.MethodPut, "/projects/c/ratings", `{"r2":5}`)
	require.Equal(t, http.StatusOK, status)

	_, body := doRequest(t, app, http.MethodGet, "/watched", "")
	watched := decode[[]models.Project](t, body)
	ids := make([]string, 0, len(watched))
	for _, p := range watched {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	_, body = doRequest(t, app, http.MethodGet, "/stats", "")
	assert.JSONEq(t, `{"total":3,"watched":2,"in_progress":1,"by_type":{"Фильм":2,"Сериал":1}}`, string(body))
}

func TestCachedWatchedAndStatsRefreshAfterRating(t *testing.T) {
	app := setupCachedTestApp(t, 0)

	status, _ := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1","year":2021}`)
	require.Equal(t, http.StatusCreated, status)

	_, body := doRequest(t, app, http.MethodGet, "/watched", "")
	assert.JSONEq(t, `[]`, string(body))
	_, body = doRequest(t, app, http.MethodGet, "/stats", "")
	assert.JSONEq(t, `{"total":1,"watched":0,"in_progress":0,"by_type":{"Фильм":1}}`, string(body))

	status, _ = doRequest(t, app, http.MethodPut, "/projects/m1/ratings", `{"r1":7}`)
	require.Equal(t, http.StatusOK, status)

	_, body = doRequest(t, app, http.MethodGet, "/watched", "")
	watched := decode[[]models.Project](t, body)
	require.Len(t, watched, 1)
	assert.JSONEq(t, `2021`, string(watched[0].Extra["year"]))
	_, body = doRequest(t, app, http.MethodGet, "/stats", "")
	assert.JSONEq(t, `{"total":1,"watched":1,"in_progress":0,"by_type":{"Фильм":1}}`, string(body))
}

func TestRateLimitExceeded(t *testing.T) {
	app := setupCachedTestApp(t, 2)

	for range 2 {
		status, _ := doRequest(t, app, http.MethodGet, "/projects", "")
		require.Equal(t, http.StatusOK, status)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/projects", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestReset(t *testing.T) {
	t.Run("forbidden outside debug", func(t *testing.T) {
		app := setupTestApp(t, false)
		status, _ := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1"}`)
		require.Equal(t, http.StatusCreated, status)

		status, _ = doRequest(t, app, http.MethodPost, "/reset", "")
		assert.Equal(t, http.StatusForbidden, status)

		_, body := doRequest(t, app, http.MethodGet, "/projects", "")
		assert.Len(t, decode[[]models.Project](t, body), 1)
	})

	t.Run("allowed in debug", func(t *testing.T) {
		app := setupTestApp(t, true)
		status, _ := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1"}`)
		require.Equal(t, http.StatusCreated, status)

		status, _ = doRequest(t, app, http.MethodPost, "/reset", "")
		assert.Equal(t, http.StatusOK, status)

		_, body := doRequest(t, app, http.MethodGet, "/projects", "")
		assert.JSONEq(t, `[]`, string(body))
	})
}

func TestAPIToken(t *testing.T) {
	store, err := repository.NewFileStore(filepath.Join(t.TempDir(), "projects.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.NewProjectService(store, nil, config.ProjectConfig{Raters: []string{"r1"}, DefaultType: "Фильм"}, time.Minute)
	app := NewApp(NewProjectHandler(svc, config.BackendFile, false), AppOptions{APIToken: "s3cret"})

	status, _ := doRequest(t, app, http.MethodPost, "/projects", `{"id":"m1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader(`{"id":"m1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	status, body := doRequest(t, app, http.MethodGet, "/projects", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.Project](t, body), 1)
}

func TestCORS(t *testing.T) {
	app := setupTestApp(t, false)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Origin", "https://example.github.io")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsAndSwagger(t *testing.T) {
	app := setupTestApp(t, false)
	doRequest(t, app, http.MethodGet, "/projects", "")

	status, body := doRequest(t, app, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "watchlist_http_requests_total")

	status, body = doRequest(t, app, http.MethodGet, "/swagger/doc.yaml", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "openapi")
}
