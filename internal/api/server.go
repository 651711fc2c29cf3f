// Package api exposes the concepts over HTTP. Every POST below the base
// URL becomes a Requesting.request action answered by sync rules, except
// for routes explicitly listed as passthrough, which call the concept
// action or query directly.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/hobbysync/internal/ir"
)

// Engine is the part of the sync engine the handlers use.
type Engine interface {
	NewFlow() string
	Submit(ctx context.Context, flow string, action ir.ActionRef, args ir.IRObject) (ir.Invocation, error)
	Dispatch(ctx context.Context, flow string, action ir.ActionRef, args ir.IRObject) (ir.Completion, error)
	Query(ctx context.Context, query ir.ActionRef, args ir.IRObject) ([]ir.IRObject, error)
}

// Requests tracks open Requesting.request calls.
type Requests interface {
	Expect(request string)
	Wait(ctx context.Context, request string) (ir.IRObject, error)
	Forget(request string)
}

// Options configures the router.
type Options struct {
	// Prefix of concept routes, e.g. "/api".
	BaseURL string
	// Routes relative to BaseURL ("/Concept/action") served directly.
	Passthrough []string
	// Per-IP limit; zero requests disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Upper bound on request bodies. Default 1 MiB.
	MaxBodyBytes int64
}

// Server holds the handler dependencies.
type Server struct {
	engine      Engine
	requests    Requests
	opts        Options
	passthrough map[string]bool
}

func NewServer(engine Engine, requests Requests, opts Options) *Server {
	if opts.BaseURL == "" {
		opts.BaseURL = "/api"
	}
	opts.BaseURL = "/" + strings.Trim(opts.BaseURL, "/")
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	pt := make(map[string]bool, len(opts.Passthrough))
	for _, route := range opts.Passthrough {
		pt["/"+strings.Trim(route, "/")] = true
	}
	return &Server{engine: engine, requests: requests, opts: opts, passthrough: pt}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(prometheusMetrics)

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route(s.opts.BaseURL, func(r chi.Router) {
		if s.opts.RateLimitRequests > 0 {
			r.Use(httprate.Limit(
				s.opts.RateLimitRequests,
				s.opts.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Too many requests.")
				}),
			))
		}
		r.Post("/*", s.handleConcept)
	})

	return r
}
