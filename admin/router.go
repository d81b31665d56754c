// Package admin exposes the saga registry over HTTP for operators.
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fortressi/sagaflow"
	"github.com/fortressi/sagaflow/breaker"
)

// Option configures the admin router.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	breakers *breaker.Registry
	gatherer prometheus.Gatherer
}

// WithLogger logs every request.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBreakers serves the state of every breaker at /breakers.
func WithBreakers(r *breaker.Registry) Option {
	return func(o *options) {
		o.breakers = r
	}
}

// WithGatherer serves metrics from g instead of prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) {
		if g != nil {
			o.gatherer = g
		}
	}
}

// NewRouter returns the admin HTTP handler:
//
//	GET /healthz
//	GET /sagas[?status=COMPENSATED]
//	GET /sagas/{id}
//	GET /sagas/{id}/graph
//	GET /breakers
//	GET /metrics
func NewRouter[C any](registry *sagaflow.Registry[C], opts ...Option) http.Handler {
	o := options{
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := &handler[C]{registry: registry, breakers: o.breakers, logger: o.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(o.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/sagas", func(r chi.Router) {
		r.Get("/", h.listSagas)
		r.Get("/{id}", h.getSaga)
		r.Get("/{id}/graph", h.getGraph)
	})
	r.Get("/breakers", h.listBreakers)
	r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("admin request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
