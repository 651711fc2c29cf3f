package milestones

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

const stepsPrompt = `You are a helpful AI assistant that creates a recommended plan of clear steps for people looking to work on a hobby.

Create a structured step-by-step plan for this %s goal: %q

Response Requirements:
1. Return ONLY a single-line JSON array of strings
2. Each string should be a specific, complete, measurable, and actionable step
3. Step must be relevant to the goal and feasible for an average person, should not be overly ambitious or vague
4. Only contain necessary steps to achieve the goal, avoid filler steps and be mindful of number of steps generated
5. Steps must be in logical order
6. Do NOT use line breaks or extra whitespace
7. Properly escape any quotes in the text
8. No step numbers or prefixes
9. No comments or explanations

Example response format:
["Research camera settings and features","Practice taking photos in different lighting","Review and organize test shots"]

Return ONLY the JSON array, nothing else.`

// BuildStepsPrompt asks for a single-line JSON array of steps.
func BuildStepsPrompt(hobby, description string) string {
	return fmt.Sprintf(stepsPrompt, hobby, description)
}

var arrayPattern = regexp.MustCompile(`\[(.*)\]`)

// Step parsing failures, reported to callers verbatim.
const (
	errInvalidFormat = "Invalid response format"
	errUnparseable   = "Could not parse response"
	errNoSteps       = "No valid steps were generated"
)

// ParseSteps extracts the step list from a model reply. The error string
// is one of the fixed messages above.
func ParseSteps(reply string) ([]string, string) {
	m := arrayPattern.FindStringSubmatch(reply)
	if m == nil {
		return nil, errInvalidFormat
	}
	var raw []string
	if err := json.Unmarshal([]byte("["+m[1]+"]"), &raw); err != nil {
		return nil, errUnparseable
	}
	steps := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		return nil, errNoSteps
	}
	return steps, ""
}
