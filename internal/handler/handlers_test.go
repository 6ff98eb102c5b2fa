package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/makereels/sync/internal/cache"
	"github.com/makereels/sync/internal/middleware"
	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/session"
)

type stubLister struct{}

func (stubLister) ListPending(ctx context.Context, userID string) ([]model.PendingWorkflow, error) {
	return nil, nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

// newTestApp wires the api surface the way cmd/syncd does, against an
// engine whose push endpoint is unreachable; transport failures are
// non-fatal so every HTTP path still works.
func newTestApp(t *testing.T, signedIn bool) (*fiber.App, *session.Engine, string) {
	t.Helper()

	engine := session.NewEngine(session.Config{
		BaseURL:           "http://127.0.0.1:1",
		WSPath:            "/ws/users",
		ReconnectAttempts: 1,
		ReconnectDelay:    10 * time.Millisecond,
	}, func(string) cache.Store { return cache.NewMemoryStore() }, stubLister{}, testLogger())
	t.Cleanup(func() { engine.Close(context.Background()) })

	if signedIn {
		if err := engine.SetUser(context.Background(), "u1", "tok"); err != nil {
			t.Fatalf("SetUser failed: %v", err)
		}
	}

	auth := middleware.NewAuthMiddleware("test-secret")
	token, err := auth.GenerateToken("u1")
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	app := fiber.New()
	api := app.Group("/api", auth.Authenticate())

	jobs := NewJobsHandler(engine, validator.New())
	api.Post("/jobs", jobs.Add)
	api.Delete("/jobs/oldest", jobs.RemoveOldest)
	api.Get("/jobs", jobs.List)
	api.Get("/status", jobs.Status)
	api.Get("/updates/:family", jobs.Updates)
	api.Post("/reconcile", jobs.Reconcile)

	toasts := NewToastsHandler(engine)
	api.Get("/toasts", toasts.List)
	api.Post("/toasts/:id/minimize", toasts.Minimize)
	api.Post("/toasts/:id/restore", toasts.Restore)

	return app, engine, token
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var decoded map[string]any
	if resp.Header.Get("Content-Type") != "" && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	resp.Body.Close()
	return resp, decoded
}

func TestAuthRequired(t *testing.T) {
	app, _, _ := newTestApp(t, false)

	resp, body := doJSON(t, app, http.MethodGet, "/api/jobs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if errObj, ok := body["error"].(map[string]any); !ok || errObj["code"] != "UNAUTHORIZED" {
		t.Errorf("unexpected error body: %+v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "NotBearer xyz")
	resp2, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed header, got %d", resp2.StatusCode)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	app, _, token := newTestApp(t, true)

	resp, body := doJSON(t, app, http.MethodPost, "/api/jobs", token,
		map[string]string{"title": "My reel"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%+v)", resp.StatusCode, body)
	}
	if body["title"] != "My reel" || body["id"] == nil || body["id"] == "" {
		t.Errorf("unexpected job body: %+v", body)
	}

	resp, body = doJSON(t, app, http.MethodGet, "/api/jobs", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	jobs, _ := body["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 listed job, got %+v", body)
	}

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/jobs/oldest", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	_, body = doJSON(t, app, http.MethodGet, "/api/jobs", token, nil)
	if jobs, _ := body["jobs"].([]any); len(jobs) != 0 {
		t.Fatalf("expected empty list, got %+v", body)
	}
}

func TestAddJobValidation(t *testing.T) {
	app, _, token := newTestApp(t, true)

	resp, body := doJSON(t, app, http.MethodPost, "/api/jobs", token,
		map[string]string{"title": strings.Repeat("x", 201)})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%+v)", resp.StatusCode, body)
	}
	if errObj, ok := body["error"].(map[string]any); !ok || errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("unexpected error body: %+v", body)
	}
}

func TestAddJobWithoutSession(t *testing.T) {
	app, _, token := newTestApp(t, false)

	resp, body := doJSON(t, app, http.MethodPost, "/api/jobs", token,
		map[string]string{"title": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without a session, got %d (%+v)", resp.StatusCode, body)
	}
}

func TestMutationRejectedForOtherUsersToken(t *testing.T) {
	app, _, _ := newTestApp(t, true)

	auth := middleware.NewAuthMiddleware("test-secret")
	otherToken, err := auth.GenerateToken("u2")
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	resp, body := doJSON(t, app, http.MethodPost, "/api/jobs", otherToken,
		map[string]string{"title": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched token, got %d (%+v)", resp.StatusCode, body)
	}

	// Reads stay open to any valid token
	resp, _ = doJSON(t, app, http.MethodGet, "/api/jobs", otherToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for read with mismatched token, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	app, _, token := newTestApp(t, true)

	resp, body := doJSON(t, app, http.MethodGet, "/api/status", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["userId"] != "u1" {
		t.Errorf("unexpected status body: %+v", body)
	}
	if _, ok := body["state"].(string); !ok {
		t.Errorf("status body missing state: %+v", body)
	}
}

func TestUpdatesFamilyWhitelist(t *testing.T) {
	app, _, token := newTestApp(t, true)

	resp, body := doJSON(t, app, http.MethodGet, "/api/updates/video", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for video family, got %d", resp.StatusCode)
	}
	if _, ok := body["updates"].([]any); !ok {
		t.Errorf("expected updates array, got %+v", body)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/api/updates/bogus", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown family, got %d", resp.StatusCode)
	}
}

func TestToastMinimizeOverHTTP(t *testing.T) {
	app, engine, token := newTestApp(t, true)

	job, err := engine.AddJob(context.Background(), "My reel")
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	resp, _ := doJSON(t, app, http.MethodPost, "/api/toasts/"+job.ID+"/minimize", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	_, body := doJSON(t, app, http.MethodGet, "/api/toasts", token, nil)
	if got, _ := body["minimizedCount"].(float64); got != 1 {
		t.Fatalf("expected minimizedCount 1, got %+v", body)
	}

	resp, _ = doJSON(t, app, http.MethodPost, "/api/toasts/"+job.ID+"/restore", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	_, body = doJSON(t, app, http.MethodGet, "/api/toasts", token, nil)
	if got, _ := body["minimizedCount"].(float64); got != 0 {
		t.Fatalf("expected minimizedCount 0, got %+v", body)
	}
}
