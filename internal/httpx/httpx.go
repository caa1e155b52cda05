// Package httpx contains the HTTP delivery layer for the Fleeting service.
// It maps requests onto the ingestion and retrieval services while enforcing
// size limits, security headers, streaming semantics and error translation.
// Handlers are split across files (upload.go, blob.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/haukened/fleeting/internal/app"
)

// Ingester is the subset of *app.Ingestor used by the upload route.
type Ingester interface {
	Ingest(ctx context.Context, req app.IngestRequest) (app.BlobRecord, error)
}

// Opener is the subset of *app.Retriever used by the display and download routes.
type Opener interface {
	Open(ctx context.Context, token string, mode app.Mode) (app.Content, error)
}

// Handler wires HTTP endpoints to the application services.
// It is safe for concurrent use once constructed.
type Handler struct {
	Ingest      Ingester
	Blobs       Opener
	MaxBody     int64                       // rejects larger Content-Length up front; 0 disables
	Readiness   func(context.Context) error // optional readiness check
	Metrics     http.Handler                // optional, mounted at /metrics
	CORSOrigins []string                    // empty disables CORS handling
	Logger      *slog.Logger
}

// New returns a Handler for the given services.
func New(ingest Ingester, blobs Opener, maxBody int64, readiness func(context.Context) error) *Handler {
	return &Handler{Ingest: ingest, Blobs: blobs, MaxBody: maxBody, Readiness: readiness}
}

// Router constructs an http.Handler with all routes and middleware mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, CorrelationIDMiddleware, h.accessLog, middleware.Recoverer, secureHeaders)
	if len(h.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", HeaderLifetimeHours, HeaderFilename},
			ExposedHeaders: []string{"Content-Disposition", "Content-Length", CorrelationIDHeader},
			MaxAge:         300,
		}))
	}

	r.Post("/upload", h.handleUpload)
	r.Post("/upload/{filename}", h.handleUpload)
	r.Get("/display/{token}", h.handleDisplay)
	r.Get("/download/{token}", h.handleDownload)
	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return otelhttp.NewHandler(r, "fleeting.http")
}

func (h *Handler) logger() *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("domain", "http")
}

// accessLog logs one line per request. The route pattern is logged instead
// of the path, which carries capability tokens.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		cid, _ := GetCorrelationID(r.Context())
		h.logger().Info("request",
			"cid", cid,
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"ms", time.Since(start).Milliseconds(),
		)
	})
}

// secureHeaders adds standard security and cache control headers.
func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}
