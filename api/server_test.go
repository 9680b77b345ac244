package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"searchrelay/cache"
	"searchrelay/config"
	"searchrelay/health"
	"searchrelay/model"
	"searchrelay/orchestrator"
	"searchrelay/provider"
	"searchrelay/registry"
	"searchrelay/scheduler"
)

type fakeBackend struct {
	name    string
	results []model.SearchResult
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(context.Context, model.SearchOptions) (*model.SearchResults, error) {
	out := append([]model.SearchResult(nil), f.results...)
	return &model.SearchResults{Results: out, Total: len(out)}, nil
}

func (f *fakeBackend) Capabilities() provider.Capabilities {
	return provider.Capabilities{MaxResults: 20, Reliability: 0.9}
}

func (f *fakeBackend) CheckHealth(context.Context) model.HealthCheck {
	return model.HealthCheck{Status: model.StatusHealthy, Timestamp: time.Now()}
}

func (f *fakeBackend) ValidateConfig() error { return nil }

func newTestServer(t *testing.T) (*Server, *health.Monitor) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New(log)
	backend := &fakeBackend{name: "one", results: []model.SearchResult{
		{Title: "a", URL: "https://a.example/1", Relevance: 0.7},
	}}
	p := provider.New(backend, config.ProviderConfig{
		Name:       "one",
		Kind:       "httpjson",
		Endpoint:   "http://127.0.0.1:1",
		MaxResults: 20,
		Circuit:    config.CircuitConfig{Threshold: 5, ResetTimeout: time.Minute},
		RateLimit:  config.RateLimitConfig{Window: time.Minute},
	})
	require.NoError(t, reg.Add(p, true))

	tiered := cache.NewTiered(cache.NewL1(100), nil, 4096, time.Hour, log)
	timeouts := orchestrator.NewAdaptiveTimeouts(config.TimeoutConfig{
		Default: 2 * time.Second, Min: 500 * time.Millisecond, Max: 5 * time.Second,
		WindowSize: 50, MinSamples: 5,
	})
	orchCfg := config.OrchestratorCfg{
		MaxConcurrentProviders: 3, OverallTimeout: 5 * time.Second, ResultCap: 20,
		CacheTTL: time.Hour, HedgeDelay: 200 * time.Millisecond,
		BreakerThreshold: 3, BreakerCooldown: 30 * time.Second,
	}
	orch := orchestrator.New(reg, tiered, timeouts, orchCfg, log)
	monitor := health.New(reg, config.HealthConfig{
		CheckInterval: time.Minute, CheckTimeout: 5 * time.Second, AlertCooldown: 5 * time.Minute,
	}, nil, log)
	sched := scheduler.New(tiered, orch, 10*time.Minute, log)

	srv := NewServer(Deps{
		Config:       &config.Config{Server: config.ServerConfig{Listen: "127.0.0.1:0"}},
		Orchestrator: orch,
		Registry:     reg,
		Monitor:      monitor,
		Scheduler:    sched,
		Cache:        tiered,
		Logger:       log,
	})
	return srv, monitor
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleSearch(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/api/search", `{"query":"react hooks"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res model.SearchResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Results, 1)
	require.Equal(t, "one", res.Provider)
	require.NotEmpty(t, res.TraceID)
	require.Equal(t, res.TraceID, rec.Header().Get("X-Trace-Id"))
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/api/search", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "INVALID_ARGUMENT", resp.Error.Code)
}

func TestHandleProviders(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodGet, "/api/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Providers map[string]model.ProviderPerformance `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Providers, "one")
	require.True(t, resp.Providers["one"].Enabled)
}

func TestProviderToggle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/api/admin/providers/one/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)

	p, ok := srv.reg.Get("one")
	require.True(t, ok)
	require.False(t, p.Enabled())

	rec = do(srv, http.MethodPost, "/api/admin/providers/one/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, p.Enabled())

	rec = do(srv, http.MethodPost, "/api/admin/providers/missing/enable", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderPriority(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(srv, http.MethodPost, "/api/admin/providers/one/priority", `{"priority":7}`)
	require.Equal(t, http.StatusOK, rec.Code)

	p, _ := srv.reg.Get("one")
	require.Equal(t, 7, p.Priority())

	rec = do(srv, http.MethodPost, "/api/admin/providers/one/priority", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthReflectsMonitor(t *testing.T) {
	srv, monitor := newTestServer(t)

	// No checks recorded yet: unknown is still serving.
	rec := do(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	monitor.Record("one", model.HealthCheck{Status: model.StatusUnhealthy})
	rec = do(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	monitor.Record("one", model.HealthCheck{Status: model.StatusHealthy})
	rec = do(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	_ = do(srv, http.MethodPost, "/api/search", `{"query":"warm"}`)

	rec := do(srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp, "version")
	require.Contains(t, resp, "providers")
	require.Contains(t, resp, "metrics")
	require.Contains(t, resp, "cache")
}

func TestAdminCacheClear(t *testing.T) {
	srv, _ := newTestServer(t)

	first := do(srv, http.MethodPost, "/api/search", `{"query":"cached"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := do(srv, http.MethodPost, "/api/search", `{"query":"cached"}`)
	var res model.SearchResults
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &res))
	require.True(t, res.CacheHit)

	rec := do(srv, http.MethodPost, "/api/admin/cache/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)

	third := do(srv, http.MethodPost, "/api/search", `{"query":"cached"}`)
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &res))
	require.False(t, res.CacheHit)
}
