package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"searchrelay/cache"
	"searchrelay/config"
	"searchrelay/health"
	"searchrelay/model"
	"searchrelay/orchestrator"
	"searchrelay/registry"
	"searchrelay/scheduler"
)

type Server struct {
	cfg        *config.Config
	orch       *orchestrator.Orchestrator
	reg        *registry.Registry
	monitor    *health.Monitor
	sched      *scheduler.Scheduler
	cache      *cache.Tiered
	log        *slog.Logger
	started    time.Time
	httpServer *http.Server
	grpcServer *grpc.Server
}

type Deps struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Registry     *registry.Registry
	Monitor      *health.Monitor
	Scheduler    *scheduler.Scheduler
	Cache        *cache.Tiered
	Logger       *slog.Logger
}

func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:     deps.Config,
		orch:    deps.Orchestrator,
		reg:     deps.Registry,
		monitor: deps.Monitor,
		sched:   deps.Scheduler,
		cache:   deps.Cache,
		log:     deps.Logger,
		started: time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/search", s.handleSearch)

	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("GET /api/health", s.handleHealthSummary)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("POST /api/admin/providers/{id}/enable", s.handleProviderEnable)
	mux.HandleFunc("POST /api/admin/providers/{id}/disable", s.handleProviderDisable)
	mux.HandleFunc("POST /api/admin/providers/{id}/priority", s.handleProviderPriority)
	mux.HandleFunc("POST /api/admin/cache/clear", s.handleAdminCacheClear)
	mux.HandleFunc("POST /api/admin/cache/maintain", s.handleAdminCacheMaintain)

	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      s.withTracing(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Info("HTTP server starting", "listen", s.cfg.Server.Listen)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type ctxKey int

const traceKey ctxKey = 0

// withTracing assigns every request a trace ID (honoring an incoming
// X-Trace-Id) and logs method, path, status, and latency.
func (s *Server) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace := strings.TrimSpace(r.Header.Get("X-Trace-Id"))
		if trace == "" {
			trace = uuid.NewString()
		}
		w.Header().Set("X-Trace-Id", trace)

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), traceKey, trace)))

		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"trace_id", trace,
			"latency_ms", time.Since(start).Milliseconds(),
		)
	})
}

func traceID(r *http.Request) string {
	if trace, ok := r.Context().Value(traceKey).(string); ok {
		return trace
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: traceID(r),
		},
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
