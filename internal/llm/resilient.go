package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/roach88/hobbysync/internal/metrics"
)

// ResilienceConfig tunes the breaker and limiter around a Client.
type ResilienceConfig struct {
	Name string
	// Requests per second and burst for the token bucket. Zero disables limiting.
	RatePerSecond float64
	Burst         int
	// Consecutive failures before the breaker opens.
	MaxFailures uint32
	// How long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// Resilient wraps a Client with a token-bucket limiter and a circuit breaker.
type Resilient struct {
	next    Client
	cb      *gobreaker.CircuitBreaker[string]
	limiter *rate.Limiter
	name    string
}

// NewResilient wraps next.
func NewResilient(next Client, cfg ResilienceConfig) *Resilient {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the upstream.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	r := &Resilient{next: next, cb: cb, name: cfg.Name}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return r
}

func (r *Resilient) Generate(ctx context.Context, prompt string) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			metrics.LLMRequestsTotal.WithLabelValues("rejected").Inc()
			return "", fmt.Errorf("%s: rate limited: %w", r.name, err)
		}
	}

	out, err := r.cb.Execute(func() (string, error) {
		return r.next.Generate(ctx, prompt)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.LLMRequestsTotal.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%s: %w", r.name, err)
	case err != nil:
		metrics.LLMRequestsTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	metrics.LLMRequestsTotal.WithLabelValues("success").Inc()
	return out, nil
}

// State reports the breaker state.
func (r *Resilient) State() gobreaker.State {
	return r.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
