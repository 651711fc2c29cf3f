package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hobbysync/internal/app"
	"github.com/roach88/hobbysync/internal/concepts/requesting"
	"github.com/roach88/hobbysync/internal/ir"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args     string // JSON object
	Database string
	Request  bool // treat the argument as a request path
}

// InvokeResult is the outcome of one invoke run.
type InvokeResult struct {
	Target     string        `json:"target"`
	Flow       string        `json:"flow,omitempty"`
	OutputCase string        `json:"output_case,omitempty"`
	Result     ir.IRObject   `json:"result,omitempty"`
	Rows       []ir.IRObject `json:"rows,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <Concept.action | /path>",
		Short: "Run one action or request against the configured database",
		Long: `Run a concept action, query or request outside the HTTP server.

An action is dispatched through the sync engine in a fresh flow, so the
rules it triggers run too. Queries (names starting with "_") are read
directly. With --request the argument is a request path, and the command
waits for the response the rules produce, exactly like an HTTP call.

Examples:
  hobbysync invoke PasswordAuthentication.register --args '{"username":"ada","password":"password1"}'
  hobbysync invoke UserProfile._getUserHobbies --args '{"user":"0192..."}'
  hobbysync invoke --request /login --args '{"username":"ada","password":"password1"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "arguments as a JSON object")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().BoolVar(&opts.Request, "request", false, "submit a request to the given path and wait for its response")

	return cmd
}

func runInvoke(opts *InvokeOptions, target string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	args, err := ir.ParseObject([]byte(opts.Args))
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInvoke, "invalid --args", err)
	}

	var ref ir.ActionRef
	if opts.Request {
		if !strings.HasPrefix(target, "/") {
			return out.Fail(ExitCommandError, ErrCodeInvoke, fmt.Sprintf("request path %q must start with /", target), nil)
		}
	} else {
		ref = ir.ActionRef(target)
		if !ref.Valid() {
			return out.Fail(ExitCommandError, ErrCodeInvoke, fmt.Sprintf("%q is not Concept.action", target), nil)
		}
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	out.VerboseLog("Opening %s", cfg.Database.Path)

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, "failed to open app", err)
	}
	defer a.Close()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Engine.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var result InvokeResult
	switch {
	case opts.Request:
		result, err = invokeRequest(ctx, a, target, args)
	case ref.IsQuery():
		result, err = invokeQuery(ctx, a, ref, args)
	default:
		result, err = invokeAction(ctx, a, ref, args)
	}
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeInvoke, fmt.Sprintf("%s failed", target), err)
	}

	if out.JSON() {
		return out.Success(result)
	}
	outputInvokeText(out, result)
	if result.TimedOut {
		return NewExitError(ExitFailure, requesting.TimeoutMessage)
	}
	return nil
}

func invokeAction(ctx context.Context, a *app.App, ref ir.ActionRef, args ir.IRObject) (InvokeResult, error) {
	if !a.Registry.HasAction(ref) {
		return InvokeResult{}, fmt.Errorf("unknown action %s", ref)
	}
	flow := a.Engine.NewFlow()
	comp, err := a.Engine.Dispatch(ctx, flow, ref, args)
	if err != nil {
		return InvokeResult{}, err
	}
	return InvokeResult{Target: string(ref), Flow: flow, OutputCase: comp.OutputCase, Result: comp.Result}, nil
}

func invokeQuery(ctx context.Context, a *app.App, ref ir.ActionRef, args ir.IRObject) (InvokeResult, error) {
	if !a.Registry.HasQuery(ref) {
		return InvokeResult{}, fmt.Errorf("unknown query %s", ref)
	}
	rows, err := a.Engine.Query(ctx, ref, args)
	if err != nil {
		return InvokeResult{}, err
	}
	if rows == nil {
		rows = []ir.IRObject{}
	}
	return InvokeResult{Target: string(ref), Rows: rows}, nil
}

func invokeRequest(ctx context.Context, a *app.App, path string, args ir.IRObject) (InvokeResult, error) {
	flow := a.Engine.NewFlow()
	body := args.Clone()
	body["path"] = ir.IRString(path)

	a.Requests.Expect(flow)
	if _, err := a.Engine.Submit(ctx, flow, ir.ActionRef(requesting.Name+".request"), body); err != nil {
		a.Requests.Forget(flow)
		return InvokeResult{}, err
	}

	resp, err := a.Requests.Wait(ctx, flow)
	if errors.Is(err, requesting.ErrTimeout) {
		return InvokeResult{Target: path, Flow: flow, TimedOut: true}, nil
	}
	if err != nil {
		return InvokeResult{}, err
	}
	return InvokeResult{Target: path, Flow: flow, OutputCase: ir.OutputCaseFor(resp), Result: resp}, nil
}

func outputInvokeText(out *OutputFormatter, result InvokeResult) {
	w := out.Writer
	if result.Flow != "" {
		fmt.Fprintf(w, "Flow: %s\n", result.Flow)
	}
	switch {
	case result.TimedOut:
		fmt.Fprintf(w, "✗ %s: %s\n", result.Target, requesting.TimeoutMessage)
	case result.Rows != nil:
		fmt.Fprintf(w, "%s: %d row(s)\n", result.Target, len(result.Rows))
		for _, row := range result.Rows {
			fmt.Fprintf(w, "  %s\n", compactJSON(row))
		}
	default:
		mark := "✓"
		if result.OutputCase == ir.OutputError {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s %s %s\n", mark, result.Target, result.OutputCase, compactJSON(result.Result))
	}
}
