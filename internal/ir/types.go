package ir

import "strings"

// ActionRef names a concept action or query: "Concept.action".
type ActionRef string

// Concept returns the part before the dot.
func (a ActionRef) Concept() string {
	c, _, _ := strings.Cut(string(a), ".")
	return c
}

// Name returns the part after the dot.
func (a ActionRef) Name() string {
	_, n, _ := strings.Cut(string(a), ".")
	return n
}

// IsQuery reports whether the reference names a query (leading underscore).
func (a ActionRef) IsQuery() bool {
	return strings.HasPrefix(a.Name(), "_")
}

// Valid reports whether the reference has both parts.
func (a ActionRef) Valid() bool {
	c, n, ok := strings.Cut(string(a), ".")
	return ok && c != "" && n != "" && !strings.Contains(n, ".")
}

// Output cases.
const (
	OutputSuccess = "Success"
	OutputError   = "Error"
)

// OutputCaseFor classifies a result: any result carrying an "error" key
// is an Error completion.
func OutputCaseFor(result IRObject) string {
	if result.Has("error") {
		return OutputError
	}
	return OutputSuccess
}

// Invocation is a request to run an action within a flow.
type Invocation struct {
	ID            string    `json:"id"`
	FlowToken     string    `json:"flow_token"`
	ActionURI     ActionRef `json:"action_uri"`
	Args          IRObject  `json:"args"`
	Seq           int64     `json:"seq"`
	EngineVersion string    `json:"engine_version"`
	IRVersion     string    `json:"ir_version"`
}

// Completion is the recorded result of an invocation.
type Completion struct {
	ID           string   `json:"id"`
	InvocationID string   `json:"invocation_id"`
	OutputCase   string   `json:"output_case"`
	Result       IRObject `json:"result"`
	Seq          int64    `json:"seq"`
}

// Record pairs an invocation with its completion; it is what when
// patterns are matched against.
type Record struct {
	Invocation Invocation
	Completion Completion
}

// SyncRule is a compiled when/where/then rule.
type SyncRule struct {
	ID    string          `json:"id"`
	When  []ActionPattern `json:"when"`
	Where []WhereStep     `json:"where,omitempty"`
	Then  []ThenAction    `json:"then"`
}

// ActionPattern matches one completed action. Input and Output are
// patterns: string leaves starting with "$" are variables, anything else
// must be equal.
type ActionPattern struct {
	Action ActionRef `json:"action"`
	Input  IRObject  `json:"input"`
	Output IRObject  `json:"output"`
}

// WhereStep refines frames. A query step calls Query with Input resolved
// from the frame and unifies each returned row with Output. A collect step
// folds the frames into one list bound to As.
type WhereStep struct {
	Query    ActionRef `json:"query,omitempty"`
	Input    IRObject  `json:"input,omitempty"`
	Output   IRObject  `json:"output,omitempty"`
	Optional bool      `json:"optional,omitempty"`
	Collect  []string  `json:"collect,omitempty"`
	As       string    `json:"as,omitempty"`
}

// IsCollect reports whether the step is a collect step.
func (w WhereStep) IsCollect() bool {
	return w.As != ""
}

// ThenAction is an action to invoke with Args instantiated from a frame.
type ThenAction struct {
	Action ActionRef `json:"action"`
	Args   IRObject  `json:"args"`
}

// VarName returns the variable named by v, if v is a "$name" string.
func VarName(v IRValue) (string, bool) {
	s, ok := v.(IRString)
	if !ok {
		return "", false
	}
	return ParseVar(string(s))
}

// ParseVar strips the "$" from a variable reference.
func ParseVar(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	return s[1:], true
}

// Vars appends every variable referenced anywhere inside v.
func Vars(v IRValue, into []string) []string {
	switch val := v.(type) {
	case IRString:
		if name, ok := ParseVar(string(val)); ok {
			into = append(into, name)
		}
	case IRArray:
		for _, elem := range val {
			into = Vars(elem, into)
		}
	case IRObject:
		for _, k := range val.SortedKeys() {
			into = Vars(val[k], into)
		}
	}
	return into
}
