package concept

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator mints identifiers for concept records.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator mints time-ordered UUIDv7 strings.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SequentialIDs mints "<prefix>-1", "<prefix>-2", ... Safe for concurrent use.
type SequentialIDs struct {
	Prefix string
	n      atomic.Int64
}

func (g *SequentialIDs) NewID() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.n.Add(1))
}

// Env carries the nondeterministic inputs of a concept so tests can pin them.
type Env struct {
	IDs IDGenerator
	Now func() time.Time
}

// DefaultEnv uses UUIDv7 ids and the wall clock.
func DefaultEnv() Env {
	return Env{IDs: UUIDGenerator{}, Now: time.Now}
}

// Timestamp formats the current time as RFC 3339 in UTC.
func (e Env) Timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// NewID mints an id, defaulting to UUIDv7.
func (e Env) NewID() string {
	if e.IDs == nil {
		return UUIDGenerator{}.NewID()
	}
	return e.IDs.NewID()
}
