// Package llm is the client side of the text-generation service used for
// hobby suggestions and milestone steps.
package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("llm: not configured")

// Client generates text for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
