package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/store"
)

// Env returns a concept environment with sequential ids ("<prefix>-1", ...)
// and a StepClock.
func Env(prefix string) concept.Env {
	return concept.Env{
		IDs: &concept.SequentialIDs{Prefix: prefix},
		Now: NewStepClock().Now,
	}
}

// OpenStore opens a store in a temp dir that is closed when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// ScriptedLLM replays canned replies in order and records every prompt.
// Once the replies run out it repeats the last one. Err, when set, is
// returned instead of a reply.
type ScriptedLLM struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Prompts []string
}

// Generate implements llm.Client.
func (s *ScriptedLLM) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Prompts = append(s.Prompts, prompt)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Replies) == 0 {
		return "", nil
	}
	reply := s.Replies[0]
	if len(s.Replies) > 1 {
		s.Replies = s.Replies[1:]
	}
	return reply, nil
}

// Calls returns how many prompts were sent.
func (s *ScriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Prompts)
}
