package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/hobbysync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern on the file name)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-dir|scenario-file>",
		Short: "Run scenario files against a fresh server",
		Long: `Run YAML scenarios through the full stack.

Each scenario gets its own temporary database. Its steps issue requests
or dispatch actions, check responses and finally assert on the recorded
trace and on concept tables.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (no scenarios, unreadable path)

Examples:
  hobbysync test ./scenarios
  hobbysync test ./scenarios/register_login.yaml
  hobbysync test ./scenarios --filter "quiz_*"
  hobbysync test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	files, err := harness.ScenarioFiles(path)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenario, "failed to find scenarios", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenario, "invalid --filter", err)
	}

	if len(files) == 0 {
		if out.JSON() {
			return out.Success(TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(out.Writer, "No scenarios found.")
		return nil
	}

	out.VerboseLog("Running %d scenario(s)", len(files))
	suite, err := harness.RunFiles(ctx, files)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenario, "failed to run scenarios", err)
	}

	result := toTestResult(files, suite)
	if out.JSON() {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		outputTestText(out, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, f := range files {
		ok, err := filepath.Match(pattern, filepath.Base(f))
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// toTestResult lists scenarios in file order.
func toTestResult(files []string, suite *harness.SuiteResult) TestResult {
	failures := make(map[string]harness.ScenarioFailure, len(suite.Failures))
	for _, f := range suite.Failures {
		failures[f.Path] = f
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Passed:    suite.Passed,
		Failed:    suite.Failed,
		Total:     suite.Total,
	}
	for _, path := range files {
		if f, ok := failures[path]; ok {
			result.Scenarios = append(result.Scenarios, ScenarioResult{Name: f.Scenario, Errors: f.Errors})
			continue
		}
		result.Scenarios = append(result.Scenarios, ScenarioResult{Name: suite.Names[path], Pass: true})
	}
	return result
}

func outputTestText(out *OutputFormatter, result TestResult) {
	w := out.Writer
	for _, s := range result.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
