package httpx

import (
	"net/http"
	"time"

	"github.com/fjod/go_fulfillment/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewRouter returns a chi router with the middleware stack shared by every
// service plus /health and /metrics.
func NewRouter(l *zap.Logger, sm *metrics.ServerMetrics, g prometheus.Gatherer, timeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(l))
	r.Use(sm.Middleware)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))
	r.Use(IdentityMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(g))

	return r
}

func NewServer(addr, service string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(h, service),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
