// Package api exposes the SaveRelay dispatch core over a JSON HTTP
// boundary: operation creation for request handlers, poll/report endpoints
// for client workers, and status queries for polling UIs.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saverelay/saverelay/pkg/engine"
)

type config struct {
	logger     *zap.Logger
	middleware func(http.Handler) http.Handler
}

// Option configures the API handler.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithMiddleware wraps the handler with custom middleware (auth,
// rate-limiting). Applied outermost.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(c *config) { c.middleware = mw })
}

// Handler creates an http.Handler for the dispatch API.
//
// Usage:
//
//	r.Mount("/api/v1", api.Handler(eng))
func Handler(e *engine.Engine, opts ...Option) http.Handler {
	cfg := &config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	svc := newService(e, cfg.logger)

	r := chi.NewRouter()
	r.Use(requestLogger(cfg.logger))

	r.Route("/operations", func(r chi.Router) {
		r.Post("/", svc.createOperation)
		r.Get("/", svc.listOperations)
		r.Get("/{operationID}/status", svc.operationStatus)
		r.Post("/{operationID}/progress", svc.reportProgress)
		r.Post("/{operationID}/complete", svc.reportCompletion)
	})
	r.Get("/batches/{batchID}/status", svc.batchStatus)

	r.Route("/worker", func(r chi.Router) {
		r.Post("/register", svc.registerWorker)
		r.Post("/heartbeat", svc.heartbeat)
		r.Post("/poll", svc.poll)
		r.Get("/connection", svc.connectionCheck)
	})

	r.Post("/session/logout", svc.logout)

	if cfg.middleware != nil {
		return cfg.middleware(r)
	}
	return r
}
