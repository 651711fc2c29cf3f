package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int                `json:"total"`
	Passed   int                `json:"passed"`
	Failed   int                `json:"failed"`
	Failures []ScenarioFailure  `json:"failures,omitempty"`
	Results  map[string]*Result `json:"-"`
	// Scenario name by file path, for files that loaded.
	Names map[string]string `json:"-"`
}

// ScenarioFailure explains why one scenario did not pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// ScenarioFiles lists the .yaml and .yml files of a directory (or the
// file itself), sorted.
func ScenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", path)
	}
	return files, nil
}

// RunFiles loads and runs every scenario file. Load and execution errors
// count as failures; the returned error is reserved for a cancelled ctx.
func RunFiles(ctx context.Context, files []string) (*SuiteResult, error) {
	suite := &SuiteResult{Results: make(map[string]*Result), Names: make(map[string]string)}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return suite, err
		}
		suite.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(filepath.Base(path), path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}
		suite.Names[path] = scenario.Name

		result, err := Run(ctx, scenario)
		if err != nil {
			suite.fail(scenario.Name, path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		suite.Results[scenario.Name] = result
		if !result.Pass {
			suite.fail(scenario.Name, path, result.Errors...)
			continue
		}
		suite.Passed++
	}
	return suite, nil
}

func (s *SuiteResult) fail(name, path string, errs ...string) {
	s.Failed++
	s.Failures = append(s.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
}
