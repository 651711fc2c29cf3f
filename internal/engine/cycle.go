package engine

import "sync"

// CycleDetector remembers which (sync, binding) pairs fired in each flow.
// A pair may fire once per flow; a second attempt is a cycle.
//
// This is separate from firing idempotency in the store. The store key
// includes the completion and survives restarts; the detector is per flow
// and in memory, and it is what stops self-retriggering rules.
type CycleDetector struct {
	mu      sync.Mutex
	history map[string]map[string]bool // flow -> "sync:hash"
}

func NewCycleDetector() *CycleDetector {
	return &CycleDetector{history: make(map[string]map[string]bool)}
}

// WouldCycle reports whether the pair already fired in the flow.
func (c *CycleDetector) WouldCycle(flowToken, syncID, bindingHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history[flowToken][syncID+":"+bindingHash]
}

// Record marks the pair as fired. Call it only after the firing was written.
func (c *CycleDetector) Record(flowToken, syncID, bindingHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[flowToken] == nil {
		c.history[flowToken] = make(map[string]bool)
	}
	c.history[flowToken][syncID+":"+bindingHash] = true
}

// Clear drops a flow's history once the flow is quiescent.
func (c *CycleDetector) Clear(flowToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, flowToken)
}

func (c *CycleDetector) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

func (c *CycleDetector) FlowHistorySize(flowToken string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history[flowToken])
}
