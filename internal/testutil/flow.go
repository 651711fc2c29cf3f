package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialFlows mints "<prefix>-1", "<prefix>-2", ... so that two runs
// of the same scenario produce byte-identical logs. Safe for concurrent use.
type SequentialFlows struct {
	Prefix string
	n      atomic.Int64
}

// NewSequentialFlows defaults the prefix to "flow".
func NewSequentialFlows(prefix string) *SequentialFlows {
	if prefix == "" {
		prefix = "flow"
	}
	return &SequentialFlows{Prefix: prefix}
}

// Generate implements engine.FlowTokenGenerator.
func (g *SequentialFlows) Generate() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.n.Add(1))
}
