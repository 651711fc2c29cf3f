package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/hobbysync/internal/ir"
)

// CycleWarning represents a potential cycle in sync rules.
//
// Cycles are warnings, not errors, because they may be intentional, and at
// runtime the engine lets a (rule, binding) pair fire once per flow.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["sync-a", "sync-b", "sync-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on sync rules.
//
// The algorithm:
//  1. Build a sync -> sync graph: A points at B when one of A's then
//     actions is named by one of B's when patterns
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// Warnings come out in rule declaration order. A DAG returns an empty list.
func AnalyzeCycles(syncs []ir.SyncRule) []CycleWarning {
	if len(syncs) == 0 {
		return []CycleWarning{}
	}

	graph, order := buildDependencyGraph(syncs)
	sccs := tarjanSCC(graph, order)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps sync_id → list of sync_ids that could be triggered.
type dependencyGraph map[string][]string

// buildDependencyGraph returns the graph and the rule IDs in declaration
// order.
func buildDependencyGraph(syncs []ir.SyncRule) (dependencyGraph, []string) {
	graph := make(dependencyGraph, len(syncs))
	order := make([]string, 0, len(syncs))

	// Which syncs listen to each action
	actionToSyncs := make(map[ir.ActionRef][]string)
	for _, sync := range syncs {
		listened := make(map[ir.ActionRef]bool)
		for _, p := range sync.When {
			if !listened[p.Action] {
				listened[p.Action] = true
				actionToSyncs[p.Action] = append(actionToSyncs[p.Action], sync.ID)
			}
		}
	}

	for _, sync := range syncs {
		order = append(order, sync.ID)
		// Ensure the node exists even without edges
		if graph[sync.ID] == nil {
			graph[sync.ID] = []string{}
		}
		seen := make(map[string]bool)
		for _, then := range sync.Then {
			for _, target := range actionToSyncs[then.Action] {
				if !seen[target] {
					seen[target] = true
					graph[sync.ID] = append(graph[sync.ID], target)
				}
			}
		}
	}
	return graph, order
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the given order.
//
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
// For self-loops, the path is [sync-id, sync-id].
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		syncID := scc[0]
		return CycleWarning{
			Path:    []string{syncID, syncID},
			Message: fmt.Sprintf("Self-triggering sync rule detected: %s -> %s", syncID, syncID),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC: start at the first
// node and follow edges to other members until we return to it.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
