package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hobbysync/internal/ir"
)

// GoldenDir is where golden traces live, relative to the test package.
const GoldenDir = "testdata/golden"

// TraceSnapshot is the part of a result compared against golden files.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toIR builds the snapshot as an IR object so it serializes canonically.
func (s *TraceSnapshot) toIR() ir.IRObject {
	trace := make(ir.IRArray, len(s.Trace))
	for i, event := range s.Trace {
		obj := ir.O("type", event.Type, "flow", event.Flow, "seq", event.Seq)
		if event.ActionURI != "" {
			obj["action_uri"] = ir.IRString(event.ActionURI)
		}
		if event.Args != nil {
			obj["args"] = event.Args
		}
		if event.SyncID != "" {
			obj["sync_id"] = ir.IRString(event.SyncID)
		}
		if event.OutputCase != "" {
			obj["output_case"] = ir.IRString(event.OutputCase)
		}
		if event.Result != nil {
			obj["result"] = event.Result
		}
		trace[i] = obj
	}
	return ir.O("scenario_name", s.ScenarioName, "trace", trace)
}

// Snapshot serializes the trace of a result canonically.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	return ir.MarshalCanonical(snap.toIR())
}

// RunWithGolden runs a scenario, fails the test if it did not pass and
// compares its trace with testdata/golden/<name>.golden. Regenerate with
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		t.Fatalf("scenario %s failed:\n%v", scenario.Name, result.Errors)
	}
	AssertGolden(t, scenario.Name, result, opts...)
	return result
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result, opts ...goldie.Option) {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", name, err)
	}
	g := goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
	g.Assert(t, name, data)
}
