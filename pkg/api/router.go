package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/fixgate/internal/logger"
	apimw "github.com/marmos91/fixgate/pkg/api/middleware"
	"github.com/marmos91/fixgate/pkg/metrics"
	"github.com/marmos91/fixgate/pkg/session"
)

// NewRouter wires the admin routes.
//
// Routes:
//   - GET  /healthz                  liveness probe (unauthenticated)
//   - GET  /metrics                  Prometheus registry (unauthenticated)
//   - GET  /api/v1/status            session snapshot
//   - POST /api/v1/sequence/reset    reset both counters to 1
func NewRouter(engine *session.Engine, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, OKResponse(nil))
	})

	if reg := metrics.GetRegistry(); reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.BearerAuth(cfg.JWTSecret))

		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			JSON(w, http.StatusOK, OKResponse(engine.Status()))
		})

		r.Post("/sequence/reset", func(w http.ResponseWriter, req *http.Request) {
			if engine.Session().State() == session.StateActive {
				JSON(w, http.StatusConflict, ErrorResponse("session is active; log out before resetting"))
				return
			}
			if err := engine.ResetSequenceNumbers(req.Context()); err != nil {
				JSON(w, http.StatusInternalServerError, ErrorResponse(err.Error()))
				return
			}
			JSON(w, http.StatusOK, OKResponse(engine.Status()))
		})
	})

	return r
}

// requestLogger logs each request at debug with method, path, status
// and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.KeyDurationMs, logger.Duration(start))
	})
}
