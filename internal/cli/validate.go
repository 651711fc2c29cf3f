package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hobbysync/internal/app"
	"github.com/roach88/hobbysync/internal/compiler"
	"github.com/roach88/hobbysync/internal/config"
	"github.com/roach88/hobbysync/internal/engine"
	"github.com/roach88/hobbysync/internal/syncs"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidateResult is the JSON payload of a validate run.
type ValidateResult struct {
	Valid    bool                       `json:"valid"`
	Source   string                     `json:"source"`
	Rules    []string                   `json:"rules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [sync-dir]",
		Short: "Check sync rules without starting the server",
		Long: `Compile and validate a directory of .cue sync rules.

Every rule is checked for structure, variable binding and references to
concept actions that the server does not provide. Potential cycles between
rules are reported as warnings. Without an argument the built-in rule
catalog is checked.

Exit codes:
  0 - All rules valid
  1 - Validation errors
  2 - Rules could not be read or compiled

Examples:
  hobbysync validate
  hobbysync validate ./syncs
  hobbysync validate ./syncs --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(opts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	result := ValidateResult{Source: dir, Rules: []string{}}
	if dir == "" {
		result.Source = "built-in catalog"
	}
	out.VerboseLog("Loading rules from %s", result.Source)

	rules, err := syncs.Load(dir)
	var verrs *syncs.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		result.Errors = verrs.Errors
		return reportValidation(out, result)
	case err != nil:
		return out.Fail(ExitCommandError, ErrCodeLoad, "failed to load sync rules", err)
	}

	for _, r := range rules {
		result.Rules = append(result.Rules, r.ID)
	}
	result.Warnings = compiler.AnalyzeCycles(rules)

	// Building the engine against the real concept registry catches
	// rules that name actions or queries nobody implements.
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	a, err := app.Open(context.Background(), cfg, app.WithRules(rules), app.WithLLM(nil))
	var rerr *engine.RuntimeError
	switch {
	case errors.As(err, &rerr) && rerr.Code == engine.ErrCodeMissingAction:
		result.Errors = append(result.Errors, compiler.ValidationError{
			SyncID:  rerr.SyncID,
			Field:   "action",
			Message: rerr.Message,
			Code:    compiler.ErrUnregisteredAction,
		})
		return reportValidation(out, result)
	case err != nil:
		return out.Fail(ExitCommandError, ErrCodeValidation, "failed to check rules against concepts", err)
	}
	defer a.Close()

	result.Valid = true
	return reportValidation(out, result)
}

func reportValidation(out *OutputFormatter, result ValidateResult) error {
	if out.JSON() {
		if err := out.encode(CLIResponse{Status: statusFor(result.Valid), Data: result}); err != nil {
			return err
		}
	} else {
		w := out.Writer
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "⚠ %s\n", warn.Message)
		}
		if result.Valid {
			fmt.Fprintf(w, "✓ All sync rules valid (%d rules from %s)\n", len(result.Rules), result.Source)
		} else {
			fmt.Fprintf(w, "✗ Validation failed (%s)\n", result.Source)
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s\n", e.Error())
			}
		}
		if out.Verbose && len(result.Rules) > 0 {
			fmt.Fprintf(w, "Rules: %s\n", strings.Join(result.Rules, ", "))
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	return nil
}

func statusFor(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
