package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/metrics"
	"github.com/marmos91/torrin/pkg/upload"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes (basePath defaults to /torrin/uploads):
//   - POST   {basePath}                          - create upload session
//   - PUT    {basePath}/{uploadID}/chunks/{index} - upload one chunk
//   - GET    {basePath}/{uploadID}/status         - session status
//   - POST   {basePath}/{uploadID}/complete       - finalize
//   - DELETE {basePath}/{uploadID}                - cancel
//   - GET    /health, /health/ready               - probes
//   - GET    /metrics                             - Prometheus exposition
func NewRouter(service *upload.Service, basePath string) http.Handler {
	if basePath == "" {
		basePath = DefaultBasePath
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	handler := NewUploadHandler(service)

	r.Route(basePath, func(r chi.Router) {
		r.Post("/", handler.Init)
		r.Route("/{uploadID}", func(r chi.Router) {
			r.Put("/chunks/{index}", handler.Chunk)
			r.Get("/status", handler.Status)
			r.Post("/complete", handler.Complete)
			r.Delete("/", handler.Cancel)
		})
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/", handleLiveness)
		r.Get("/ready", handleReadiness)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestLogger logs requests using the internal logger: start at DEBUG,
// completion at INFO with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
