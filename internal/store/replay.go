package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/hobbysync/internal/ir"
)

// FlowEventType distinguishes the two kinds of log entries.
type FlowEventType int

const (
	EventInvocation FlowEventType = iota
	EventCompletion
)

func (t FlowEventType) String() string {
	switch t {
	case EventInvocation:
		return "invocation"
	case EventCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// FlowEvent is one entry of a flow in log order.
type FlowEvent struct {
	Type       FlowEventType
	Seq        int64
	ID         string
	Invocation *ir.Invocation
	Completion *ir.Completion
	// Set on invocations produced by a sync.
	SyncID string
}

// ReplayFlow merges a flow's invocations and completions into one stream
// ordered by seq; invocations sort before completions at equal seq.
func (s *Store) ReplayFlow(ctx context.Context, flowToken string) ([]FlowEvent, error) {
	invs, comps, err := s.ReadFlow(ctx, flowToken)
	if err != nil {
		return nil, fmt.Errorf("replay flow: %w", err)
	}

	events := make([]FlowEvent, 0, len(invs)+len(comps))
	for i := range invs {
		ev := FlowEvent{Type: EventInvocation, Seq: invs[i].Seq, ID: invs[i].ID, Invocation: &invs[i]}
		prov, err := s.ReadProvenance(ctx, invs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("replay flow: %w", err)
		}
		if len(prov) > 0 {
			ev.SyncID = prov[0].SyncID
		}
		events = append(events, ev)
	}
	for i := range comps {
		events = append(events, FlowEvent{Type: EventCompletion, Seq: comps[i].Seq, ID: comps[i].ID, Completion: &comps[i]})
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return events, nil
}

// GetPendingInvocations returns a flow's invocations that have no completion.
func (s *Store) GetPendingInvocations(ctx context.Context, flowToken string) ([]ir.Invocation, error) {
	return s.queryInvocations(ctx, `
		SELECT i.id, i.flow_token, i.action_uri, i.args, i.seq, i.engine_version, i.ir_version
		FROM invocations i
		LEFT JOIN completions c ON c.invocation_id = i.id
		WHERE i.flow_token = ? AND c.id IS NULL
		ORDER BY i.seq ASC, i.id COLLATE BINARY ASC`, flowToken)
}

// FindIncompleteFlows lists flows holding at least one pending invocation.
func (s *Store) FindIncompleteFlows(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT i.flow_token
		FROM invocations i
		LEFT JOIN completions c ON c.invocation_id = i.id
		WHERE c.id IS NULL
		GROUP BY i.flow_token
		ORDER BY MIN(i.seq) ASC`)
}

// ListFlowTokens lists every flow in order of first appearance.
func (s *Store) ListFlowTokens(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT flow_token FROM invocations
		GROUP BY flow_token
		ORDER BY MIN(seq) ASC, flow_token ASC`)
}

func (s *Store) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetLastSeq returns the highest seq in the log, so a restarted engine can
// resume its clock past it.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM invocations), 0),
			COALESCE((SELECT MAX(seq) FROM completions), 0),
			COALESCE((SELECT MAX(seq) FROM sync_firings), 0)
		)`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}
