package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter creates the chi router. Control endpoints live under /_sw/;
// every other path is proxied to the origin through the worker.
//
// Routes:
//   - GET /health - worker state and store health
//   - GET /metrics - prometheus metrics from gatherer
//   - GET /_sw/clients - page WebSocket
//   - POST /_sw/push - push payload delivery
//   - GET /_sw/search/{header,details,share} - search helper fragments
func NewRouter(h *Handlers, pages http.Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HandleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/_sw", func(r chi.Router) {
		if pages != nil {
			r.Get("/clients", pages.ServeHTTP)
		}
		r.Post("/push", h.HandlePush)
		r.Route("/search", func(r chi.Router) {
			r.Get("/header", h.HandleSearchHeader)
			r.Get("/details", h.HandleSearchDetails)
			r.Get("/share", h.HandleShareLink)
		})
	})

	r.HandleFunc("/*", h.HandleFetch)

	return r
}

// requestLogger logs each request on completion. Control and health
// traffic is logged at debug.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/_sw/") {
				log.Debug("Request completed", fields...)
				return
			}
			log.Info("Request completed", fields...)
		})
	}
}
