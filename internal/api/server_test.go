package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokenLinkAnalyzerGO/internal/config"
	"brokenLinkAnalyzerGO/internal/crawler"
	"brokenLinkAnalyzerGO/internal/middleware"
	"brokenLinkAnalyzerGO/internal/models"
	"brokenLinkAnalyzerGO/internal/repository"
	"brokenLinkAnalyzerGO/internal/service"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

type crawlFunc func(ctx context.Context, req crawler.Request, progress crawler.ProgressFunc) (*crawler.Outcome, error)

func (f crawlFunc) Crawl(ctx context.Context, req crawler.Request, progress crawler.ProgressFunc) (*crawler.Outcome, error) {
	return f(ctx, req, progress)
}

func newTestServer(t *testing.T, c crawler.Crawler) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Env: "test",
		Server: config.ServerConfig{
			Port:           "0",
			AllowedOrigins: []string{"*"},
		},
		Auth: config.AuthConfig{JWTSecret: testSecret},
	}

	svc := service.NewBrokenLinkService(repository.NewMemoryRepository(), c, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return NewServer(cfg, svc, logger).Handler()
}

func tokenFor(t *testing.T, userID string, plan models.Plan) string {
	t.Helper()
	claims := middleware.Claims{
		Email: userID + "@example.com",
		Plan:  string(plan),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func createAnalysis(t *testing.T, h http.Handler, token string, body any) string {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/tools/broken-links/analyze", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decode(t, rec)
	require.True(t, env.Success)
	var data struct {
		AnalysisID string `json:"analysisId"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.AnalysisID)
	assert.Equal(t, "iniciado", data.Status)
	return data.AnalysisID
}

func waitForStatus(t *testing.T, h http.Handler, token, id string, want models.Status) models.AnalysisStatus {
	t.Helper()
	var status models.AnalysisStatus
	require.Eventually(t, func() bool {
		rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/analyze/"+id, token, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(decode(t, rec).Data, &status); err != nil {
			return false
		}
		return status.Status == want
	}, 3*time.Second, 5*time.Millisecond, "analysis never reached %s", want)
	return status
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Millisecond, slog.Default()))

	rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestAnalysisLifecycle(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil))))
	token := tokenFor(t, "user-pro", models.PlanPro)

	id := createAnalysis(t, h, token, map[string]any{
		"url":             "https://example.com",
		"depth":           3,
		"includeExternal": false,
		"excludePaths":    []string{},
	})

	status := waitForStatus(t, h, token, id, models.StatusCompleted)
	assert.Equal(t, 100, status.Progress)
	assert.NotNil(t, status.CompletedAt)

	rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/results/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results models.AnalysisResults
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &results))
	assert.Equal(t, id, results.AnalysisID)
	assert.Len(t, results.BrokenLinks, results.Summary.BrokenLinks)
	assert.Equal(t, max(0, 100-10*results.Summary.BrokenLinks), results.Summary.HealthScore)
	assert.NotEmpty(t, results.Recommendations)
}

func TestAnalyzeValidationErrors(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	token := tokenFor(t, "user-pro", models.PlanPro)

	tests := []struct {
		name    string
		body    any
		details []string
	}{
		{
			name:    "missing url",
			body:    map[string]any{"depth": 2},
			details: []string{"url is required"},
		},
		{
			name: "every field wrong",
			body: map[string]any{
				"url":             "ftp://example.com",
				"depth":           0,
				"excludePaths":    []string{"admin"},
				"includeExternal": "yes",
			},
			details: []string{
				"url must use http or https",
				"depth must be between 1 and 10",
				"excludePaths[0] must start with /",
				"includeExternal must be a boolean",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/tools/broken-links/analyze", token, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			env := decode(t, rec)
			assert.False(t, env.Success)
			var details []string
			require.NoError(t, json.Unmarshal(env.Details, &details))
			assert.Equal(t, tt.details, details)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodPost, "/api/tools/broken-links/analyze", token, "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body", decode(t, rec).Error)
	})
}

func TestAnalyzeRejectsDepthAbovePlan(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	token := tokenFor(t, "user-free", models.PlanFree)

	rec := doRequest(t, h, http.MethodPost, "/api/tools/broken-links/analyze", token,
		map[string]any{"url": "https://example.com", "depth": 8})
	require.Equal(t, http.StatusForbidden, rec.Code)

	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "free")
	assert.Contains(t, env.Error, "2")

	history := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/history", token, nil)
	var page models.History
	require.NoError(t, json.Unmarshal(decode(t, history).Data, &page))
	assert.Zero(t, page.Total)
}

func TestAuthentication(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))

	rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, decode(t, rec).Success)

	rec = doRequest(t, h, http.MethodGet, "/api/tools/broken-links/history", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnalysisOfAnotherUserIsNotFound(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	owner := tokenFor(t, "owner", models.PlanPro)
	other := tokenFor(t, "other", models.PlanEnterprise)

	id := createAnalysis(t, h, owner, map[string]any{"url": "https://example.com"})

	for _, path := range []string{
		"/api/tools/broken-links/analyze/" + id,
		"/api/tools/broken-links/results/" + id,
		"/api/tools/broken-links/export/" + id + "?format=csv",
	} {
		rec := doRequest(t, h, http.MethodGet, path, other, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := doRequest(t, h, http.MethodDelete, "/api/tools/broken-links/analyze/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/tools/broken-links/analyze/does-not-exist", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsBeforeCompletion(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	token := tokenFor(t, "user-pro", models.PlanPro)

	id := createAnalysis(t, h, token, map[string]any{"url": "https://example.com"})

	rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/results/"+id, token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var details struct {
		Status models.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Details, &details))
	assert.Equal(t, models.StatusRunning, details.Status)
}

func TestCancelTwice(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	token := tokenFor(t, "user-pro", models.PlanPro)

	id := createAnalysis(t, h, token, map[string]any{"url": "https://example.com"})

	rec := doRequest(t, h, http.MethodDelete, "/api/tools/broken-links/analyze/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode(t, rec).Success)

	rec = doRequest(t, h, http.MethodDelete, "/api/tools/broken-links/analyze/"+id, token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	status := waitForStatus(t, h, token, id, models.StatusCancelled)
	assert.Nil(t, status.CompletedAt)
}

func TestExport(t *testing.T) {
	links := []models.BrokenLink{
		{SourceURL: "https://example.com/", TargetURL: "https://example.com/missing", StatusCode: 404, ErrorType: "Not Found", LinkType: models.LinkInternal},
		{SourceURL: "https://example.com/a", TargetURL: "https://other.example/", StatusCode: 0, ErrorType: "Timeout", LinkType: models.LinkExternal},
		{SourceURL: "https://example.com/b", TargetURL: "https://example.com/gone", StatusCode: 410, ErrorType: "Gone", LinkType: models.LinkInternal},
	}
	h := newTestServer(t, crawlFunc(func(ctx context.Context, _ crawler.Request, _ crawler.ProgressFunc) (*crawler.Outcome, error) {
		return &crawler.Outcome{PagesAnalyzed: 3, LinksFound: 12, BrokenLinks: links}, nil
	}))
	pro := tokenFor(t, "user-pro", models.PlanPro)
	free := tokenFor(t, "user-free", models.PlanFree)

	proID := createAnalysis(t, h, pro, map[string]any{"url": "https://example.com"})
	freeID := createAnalysis(t, h, free, map[string]any{"url": "https://example.com"})
	waitForStatus(t, h, pro, proID, models.StatusCompleted)
	waitForStatus(t, h, free, freeID, models.StatusCompleted)

	t.Run("csv", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/export/"+freeID+"?format=csv", free, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

		lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
		require.Len(t, lines, len(links)+1)
		assert.Equal(t, "URL Origen,URL Destino,Código,Error,Tipo", lines[0])
	})

	t.Run("pdf requires a paid plan", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/export/"+freeID+"?format=pdf", free, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, decode(t, rec).Success)
	})

	t.Run("pdf", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/export/"+proID+"?format=pdf", pro, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
		assert.Contains(t, rec.Body.String(), "70/100")
	})

	t.Run("unsupported format", func(t *testing.T) {
		rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/export/"+proID+"?format=xlsx", pro, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExportBeforeCompletion(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	token := tokenFor(t, "user-pro", models.PlanPro)

	id := createAnalysis(t, h, token, map[string]any{"url": "https://example.com"})

	rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/export/"+id+"?format=csv", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	token := tokenFor(t, "user-pro", models.PlanPro)
	other := tokenFor(t, "other", models.PlanPro)

	for range 3 {
		createAnalysis(t, h, token, map[string]any{"url": "https://example.com"})
	}
	createAnalysis(t, h, other, map[string]any{"url": "https://example.com"})

	rec := doRequest(t, h, http.MethodGet, "/api/tools/broken-links/history?page=2&limit=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page models.History
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Analyses, 1)

	rec = doRequest(t, h, http.MethodGet, "/api/tools/broken-links/history?page=abc", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &page))
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Analyses, 3)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, crawler.NewSimulator(time.Hour, slog.Default()))
	doRequest(t, h, http.MethodGet, "/api/tools/broken-links/health", "", nil)

	rec := doRequest(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_requests_total")
}
