package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hobbysync/internal/ir"
)

// Scenario is a conformance test: a sequence of requests and actions run
// against a fresh server, followed by assertions on the resulting log and
// the concept tables.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Syncs is a directory of .cue rule files. Relative paths resolve
	// against the scenario file. Empty means the built-in catalog.
	Syncs string `yaml:"syncs,omitempty"`

	// LLM scripts the language model. Without it the concepts that need
	// one report it as not initialized.
	LLM *LLMScript `yaml:"llm,omitempty"`

	// Timeout bounds every request step. Defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Setup steps run first; they are traced like flow steps.
	Setup []FlowStep `yaml:"setup,omitempty"`

	Flow []FlowStep `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// LLMScript is the canned behavior of the language model.
type LLMScript struct {
	// Replies are returned in order; the last one repeats.
	Replies []string `yaml:"replies,omitempty"`
	// Error, when set, fails every call with this message.
	Error string `yaml:"error,omitempty"`
}

// FlowStep is either a request or an invoke.
type FlowStep struct {
	// Request is a route below the base URL, e.g. "/UserProfile/setName".
	Request string `yaml:"request,omitempty"`

	// Invoke is an action reference, e.g. "PasswordAuthentication.register".
	Invoke string `yaml:"invoke,omitempty"`

	// Args is the request body or the action arguments.
	Args map[string]any `yaml:"args"`

	// Save copies fields of the response (or action result) into
	// variables: variable name -> field name.
	Save map[string]string `yaml:"save,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Label names the step in messages.
func (s FlowStep) Label() string {
	if s.Request != "" {
		return "request " + s.Request
	}
	return "invoke " + s.Invoke
}

// ExpectClause checks what a step produced.
type ExpectClause struct {
	// Case is "Success" or "Error". For requests it tells whether the
	// response body carries an error field.
	Case string `yaml:"case,omitempty"`

	// Result is a subset match against the response or action result.
	Result map[string]any `yaml:"result,omitempty"`

	// Timeout expects a request to go unanswered.
	Timeout bool `yaml:"timeout,omitempty"`
}

// Assertion validates the final trace or state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args is a subset match used by trace_contains and trace_count.
	Args map[string]any `yaml:"args,omitempty"`

	// Table, Where and Expect are used by final_state.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Actions is the expected order for trace_order.
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// DefaultTimeout bounds request steps.
const DefaultTimeout = 5 * time.Second

// LoadScenario reads a scenario file. Unknown fields are rejected so a
// typo does not silently disable an assertion.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario decodes a scenario and resolves Syncs against baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Syncs != "" && !filepath.IsAbs(scenario.Syncs) && baseDir != "" {
		scenario.Syncs = filepath.Join(baseDir, scenario.Syncs)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if s.Syncs != "" {
		info, err := os.Stat(s.Syncs)
		if err != nil {
			return fmt.Errorf("syncs directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("syncs %s is not a directory", s.Syncs)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step FlowStep) error {
	switch {
	case step.Request == "" && step.Invoke == "":
		return fmt.Errorf("one of request or invoke is required")
	case step.Request != "" && step.Invoke != "":
		return fmt.Errorf("request and invoke are mutually exclusive")
	case step.Request != "" && !strings.HasPrefix(step.Request, "/"):
		return fmt.Errorf("request %q must start with /", step.Request)
	}
	if step.Invoke != "" {
		ref := ir.ActionRef(step.Invoke)
		if !ref.Valid() {
			return fmt.Errorf("invoke %q is not Concept.action", step.Invoke)
		}
		if ref.IsQuery() {
			return fmt.Errorf("invoke %q is a query; use a request", step.Invoke)
		}
	}
	if step.Args == nil {
		return fmt.Errorf("args is required (use {} if there are none)")
	}

	if e := step.Expect; e != nil {
		switch e.Case {
		case "", ir.OutputSuccess, ir.OutputError:
		default:
			return fmt.Errorf("expect.case %q must be %s or %s", e.Case, ir.OutputSuccess, ir.OutputError)
		}
		if e.Timeout && step.Request == "" {
			return fmt.Errorf("expect.timeout only applies to requests")
		}
		if e.Timeout && (e.Case != "" || e.Result != nil) {
			return fmt.Errorf("expect.timeout excludes case and result")
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
