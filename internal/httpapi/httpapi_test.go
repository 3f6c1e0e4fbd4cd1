package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raito/internal/bus"
	"raito/internal/cache"
	"raito/internal/gateway"
	"raito/internal/model"
	"raito/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Interface) {
	t.Helper()
	st := store.NewMemoryStore()
	gw := gateway.New(st, cache.NewInMemoryCache(64), bus.NewMemoryBus(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewServer(gw, st, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}

	rec := httptest.NewRecorder()
	rec.Code = resp.StatusCode
	return rec, out
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := doJSON(t, s, "GET", "/healthz", nil)
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "ok", out["status"])
}

func TestJobStatusNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := doJSON(t, s, "GET", "/status/does-not-exist", nil)
	require.Equal(t, 404, rec.Code)
	require.Equal(t, "JOB_NOT_FOUND", out["code"])
}

func TestJobStatusFound(t *testing.T) {
	s, st := newTestServer(t)
	job := model.Job{JobID: "job-1", Status: model.JobCompleted, Stage: "storing", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, st.Set(context.Background(), model.NSJobs, job.JobID, job))

	rec, out := doJSON(t, s, "GET", "/status/job-1", nil)
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "job-1", out["job_id"])
	require.Equal(t, string(model.JobCompleted), out["status"])
}

func TestJobResultsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := doJSON(t, s, "GET", "/results/does-not-exist", nil)
	require.Equal(t, 404, rec.Code)
	require.Equal(t, "RESULTS_NOT_FOUND", out["code"])
}

func TestListMonitorsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := doJSON(t, s, "GET", "/monitors", nil)
	require.Equal(t, 200, rec.Code)
	require.Equal(t, true, out["success"])
	require.Empty(t, out["monitors"])
}

func TestDeleteMonitorDeactivates(t *testing.T) {
	s, st := newTestServer(t)
	monitor := model.Monitor{MonitorID: "mon-1", Active: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, st.Set(context.Background(), model.NSMonitors, monitor.MonitorID, monitor))

	rec, out := doJSON(t, s, "DELETE", "/monitors/mon-1", nil)
	require.Equal(t, 200, rec.Code)
	require.Equal(t, true, out["success"])

	var stored model.Monitor
	require.NoError(t, st.Get(context.Background(), model.NSMonitors, "mon-1", &stored))
	require.False(t, stored.Active)
}

func TestCreateScraperRequiresSchema(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := doJSON(t, s, "POST", "/scrapers", map[string]any{"name": "no-schema"})
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "CREATE_SCRAPER_FAILED", out["code"])
}

func TestCreateScraperSucceeds(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := doJSON(t, s, "POST", "/scrapers", map[string]any{
		"name": "product-page",
		"schema": map[string]any{
			"type":       "object",
			"properties": map[string]any{"title": map[string]any{"type": "string"}},
		},
	})
	require.Equal(t, 201, rec.Code)
	require.Equal(t, true, out["success"])
	require.NotEmpty(t, out["scraper"])
}

func TestRunScraperMissingURL(t *testing.T) {
	s, st := newTestServer(t)
	scr := model.Scraper{ScraperID: "scr-1", Name: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.Set(context.Background(), model.NSScrapers, scr.ScraperID, scr))

	rec, out := doJSON(t, s, "POST", "/scrape/scr-1", map[string]any{})
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "BAD_REQUEST", out["code"])
}

func TestRunScraperUnknownScraper(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := doJSON(t, s, "POST", "/scrape/missing", map[string]any{"url": "https://example.com"})
	require.Equal(t, 404, rec.Code)
	require.Equal(t, "SCRAPER_NOT_FOUND", out["code"])
}
