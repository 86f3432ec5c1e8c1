package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core"
	"github.com/joseph-ayodele/menu-allergens/internal/repository"
)

// Config holds runtime options for the HTTP server.
type Config struct {
	Address string
	// RequestTimeout bounds one request; PDF extraction has its own budget below it.
	RequestTimeout time.Duration
}

// Deps are the collaborators behind the handlers. Jobs and DB are optional.
type Deps struct {
	Processor   *core.Processor
	Store       common.StoreConfig
	OCRLanguage func() string
	Jobs        repository.ConversionJobRepository
	DB          *repository.DB
	Logger      *slog.Logger
}

// Handlers serves the conversion endpoint and the health checks.
type Handlers struct {
	deps     Deps
	maxBytes int64
	logger   *slog.Logger
	started  time.Time
	now      func() time.Time
}

func NewHandlers(deps Deps, maxBytes int64) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	return &Handlers{deps: deps, maxBytes: maxBytes, logger: logger, started: time.Now(), now: time.Now}
}

// Router mounts every route on a chi router.
func (h *Handlers) Router(timeout time.Duration) chi.Router {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.requestContext)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))

	r.Get("/health", h.Health)
	r.Get("/env-check", h.EnvCheck)
	r.Route("/api", func(r chi.Router) {
		r.Post("/convert", h.Convert)
		r.Get("/jobs", h.ListJobs)
	})
	return r
}

// New constructs the HTTP server with middleware stack.
func New(cfg Config, h *Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           h.Router(cfg.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// requestContext copies the chi request id into the context and logs the request.
func (h *Handlers) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := common.WithRequestID(r.Context(), chimw.GetReqID(r.Context()))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		h.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", common.RequestIDFromContext(ctx),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Shutdown stops srv within timeout.
func Shutdown(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}
