// Package app assembles the server: event store, concepts, sync rules,
// engine and HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/hobbysync/internal/api"
	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/concepts/milestones"
	"github.com/roach88/hobbysync/internal/concepts/passwordauth"
	"github.com/roach88/hobbysync/internal/concepts/quizmatch"
	"github.com/roach88/hobbysync/internal/concepts/requesting"
	"github.com/roach88/hobbysync/internal/concepts/sessioning"
	"github.com/roach88/hobbysync/internal/concepts/userprofile"
	"github.com/roach88/hobbysync/internal/config"
	"github.com/roach88/hobbysync/internal/engine"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/llm"
	"github.com/roach88/hobbysync/internal/store"
	"github.com/roach88/hobbysync/internal/supervisor"
	"github.com/roach88/hobbysync/internal/syncs"
)

// App is a fully wired server.
type App struct {
	Config   *config.Config
	Store    *store.Store
	Sessions *badger.DB
	Registry *concept.Registry
	Engine   *engine.Engine
	Requests *requesting.Concept
	Rules    []ir.SyncRule
}

type options struct {
	env      concept.Env
	llm      llm.Client
	llmSet   bool
	flows    engine.FlowTokenGenerator
	rules    []ir.SyncRule
	authOpts []passwordauth.Option
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

// WithEnv pins ids and timestamps of every concept.
func WithEnv(env concept.Env) Option {
	return func(o *options) { o.env = env }
}

// WithLLM replaces the configured Gemini client. nil disables the LLM.
func WithLLM(c llm.Client) Option {
	return func(o *options) { o.llm, o.llmSet = c, true }
}

// WithFlowTokens replaces UUIDv7 flow tokens.
func WithFlowTokens(g engine.FlowTokenGenerator) Option {
	return func(o *options) { o.flows = g }
}

// WithRules replaces the rule set loaded from config.
func WithRules(rules []ir.SyncRule) Option {
	return func(o *options) { o.rules = rules }
}

// WithPasswordOptions passes options to PasswordAuthentication.
func WithPasswordOptions(opts ...passwordauth.Option) Option {
	return func(o *options) { o.authOpts = append(o.authOpts, opts...) }
}

// NewLLM builds the Gemini client with breaker and limiter. It returns
// nil without an API key so concepts report the LLM as not initialized.
func NewLLM(cfg config.LLMConfig) llm.Client {
	if cfg.APIKey == "" {
		return nil
	}
	gemini := llm.NewGemini(llm.GeminiConfig{
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout,
	})
	return llm.NewResilient(gemini, llm.ResilienceConfig{
		Name:          "gemini",
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		MaxFailures:   cfg.MaxFailures,
		OpenTimeout:   cfg.OpenTimeout,
	})
}

// Open wires everything described by cfg. The caller must Close the App.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := options{env: concept.DefaultEnv(), flows: engine.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.llmSet {
		o.llm = NewLLM(cfg.LLM)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.Sessions, err = sessioning.OpenDB(cfg.Database.SessionDir)
	if err != nil {
		return nil, err
	}

	db := a.Store.DB()
	auth, err := passwordauth.New(ctx, db, o.env, o.authOpts...)
	if err != nil {
		return nil, err
	}
	profiles, err := userprofile.New(ctx, db, o.env)
	if err != nil {
		return nil, err
	}
	quiz, err := quizmatch.New(ctx, db, o.env, o.llm)
	if err != nil {
		return nil, err
	}
	goals, err := milestones.New(ctx, db, o.env, o.llm)
	if err != nil {
		return nil, err
	}
	a.Requests = requesting.New(cfg.Server.RequestTimeout)

	a.Registry, err = concept.NewRegistry(
		auth,
		sessioning.New(a.Sessions, o.env, cfg.Database.SessionTTL),
		profiles,
		quiz,
		goals,
		a.Requests,
	)
	if err != nil {
		return nil, err
	}

	a.Rules = o.rules
	if a.Rules == nil {
		a.Rules, err = syncs.Load(cfg.Engine.SyncDir)
		if err != nil {
			return nil, err
		}
	}

	a.Engine, err = engine.New(a.Store, a.Registry, a.Rules, o.flows,
		engine.WithMaxSteps(cfg.Engine.MaxSteps),
		engine.WithWorkers(cfg.Engine.Workers),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Handler is the HTTP surface.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.Engine, a.Requests, api.Options{
		BaseURL:           a.Config.Server.BaseURL,
		RateLimitRequests: a.Config.Server.RateLimitRequests,
		RateLimitWindow:   a.Config.Server.RateLimitWindow,
		Passthrough:       a.Config.Server.Passthrough,
	}).Handler()
}

// Serve recovers interrupted flows, then runs the engine and the HTTP
// listener under a supervisor until ctx is cancelled.
func (a *App) Serve(ctx context.Context, logger *slog.Logger) error {
	n, err := a.Engine.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("recovered pending invocations", "count", n)
	}

	srv := &http.Server{
		Addr:              a.Config.Server.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.Config.Server.RequestTimeout,
	}

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: a.Config.Server.ShutdownTimeout})
	tree.AddEngineService(supervisor.NewEngineService(a.Engine))
	tree.AddAPIService(supervisor.NewHTTPService(srv, a.Config.Server.ShutdownTimeout))

	slog.Info("server listening", "addr", srv.Addr, "base_url", a.Config.Server.BaseURL, "syncs", len(a.Rules))
	err = tree.Serve(ctx)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the stores.
func (a *App) Close() error {
	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event store: %w", err))
		}
	}
	return errors.Join(errs...)
}
