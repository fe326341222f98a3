// Package executor runs a task's template body bounded in time and output
// size, and persists the resulting execution row, per spec.md §4.2.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chaosslabs/personal-automator/internal/automerr"
	"github.com/chaosslabs/personal-automator/internal/credential"
	"github.com/chaosslabs/personal-automator/internal/sandbox"
	"github.com/chaosslabs/personal-automator/internal/store"
)

// lineBroadcaster is satisfied by *wshub.Hub. Declared locally so this
// package doesn't depend on wshub just to accept an optional subscriber.
type lineBroadcaster interface {
	BroadcastLine(taskID, executionID int64, severity, line string)
	BroadcastStatus(taskID, executionID int64, status string)
}

// notifier is satisfied by *notify.Dispatcher.
type notifier interface {
	Send(event string, payload interface{})
}

// Executor runs tasks against their templates and closes out execution rows.
type Executor struct {
	store          *store.Store
	injector       *credential.Injector
	dataDir        string
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	maxConsoleSize int
	allowedEnvVars []string

	hub    lineBroadcaster
	notify notifier
}

// New builds an Executor. allowedEnvVars is the fixed allow-list templates'
// os.env(name) may read — everything else returns "".
func New(st *store.Store, inj *credential.Injector, dataDir string, defaultTimeout, maxTimeout time.Duration, maxConsoleSize int, allowedEnvVars []string) *Executor {
	return &Executor{
		store:          st,
		injector:       inj,
		dataDir:        dataDir,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		maxConsoleSize: maxConsoleSize,
		allowedEnvVars: allowedEnvVars,
	}
}

// SetHub registers an optional live console/status broadcaster. Passing nil
// disables broadcasting (the default).
func (e *Executor) SetHub(hub lineBroadcaster) {
	e.hub = hub
}

// SetNotifier registers an optional completion notifier. Passing nil
// disables notification (the default).
func (e *Executor) SetNotifier(n notifier) {
	e.notify = n
}

// RunOpts are the caller-supplied overrides for a single run.
type RunOpts struct {
	TimeoutMs int
}

// Result is what Run always returns — task-internal failures are reported
// here, never via the error return (spec.md §4.2 "Failure semantics").
// Pre-registration failures (unknown task/template) are the one exception
// and come back as a non-nil error with no Execution populated.
type Result struct {
	Success   bool
	Execution *store.Execution
	Output    store.ExecutionOutput
	Error     string
	Kind      automerr.Kind
}

// Run executes spec.md §4.2 steps 1-10 in order.
func (e *Executor) Run(ctx context.Context, taskID int64, opts RunOpts) (Result, error) {
	task, err := e.store.Tasks().Get(ctx, taskID)
	if err != nil {
		return Result{}, automerr.New("Executor.Run", automerr.KindValidation, fmt.Errorf("load task %d: %w", taskID, err))
	}
	tpl, err := e.store.Templates().Get(ctx, task.TemplateID)
	if err != nil {
		return Result{}, automerr.New("Executor.Run", automerr.KindValidation, fmt.Errorf("load template %s: %w", task.TemplateID, err))
	}

	exec, err := e.store.Executions().Create(ctx, taskID)
	if err != nil {
		return Result{}, automerr.New("Executor.Run", automerr.KindIO, err)
	}

	credNames := unionCredentialNames(tpl.RequiredCredentials, task.Credentials)
	inject := e.injector.Inject(ctx, credNames)
	if !inject.Success {
		finishedAt := time.Now().UTC()
		errMsg := fmt.Sprintf("missing credentials: %v", append(inject.Missing, inject.Errors...))
		_ = e.store.Executions().Update(ctx, exec.ID, store.UpdateFields{
			Status:     store.StatusFailed,
			FinishedAt: finishedAt,
			Error:      &errMsg,
		})
		_ = e.store.Tasks().UpdateLastRun(ctx, taskID, finishedAt, task.NextRunAt)
		if e.hub != nil {
			e.hub.BroadcastStatus(taskID, exec.ID, string(store.StatusFailed))
		}
		if e.notify != nil {
			e.notify.Send(string(store.StatusFailed), map[string]interface{}{
				"task_id": taskID, "execution_id": exec.ID, "error": errMsg,
			})
		}
		return Result{Execution: exec, Error: errMsg, Kind: automerr.KindCredential}, nil
	}
	defer credential.Clear(inject.Credentials)

	timeoutMs := e.defaultTimeout
	if opts.TimeoutMs > 0 {
		timeoutMs = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if timeoutMs > e.maxTimeout {
		timeoutMs = e.maxTimeout
	}

	startedAt := time.Now().UTC()
	deadline := startedAt.Add(timeoutMs)
	scratchDir := filepath.Join(e.dataDir, "scratch", strconv.FormatInt(exec.ID, 10))

	if e.hub != nil {
		e.hub.BroadcastStatus(taskID, exec.ID, string(store.StatusRunning))
	}

	var onLine func(sev sandbox.Severity, line string)
	if e.hub != nil {
		onLine = func(sev sandbox.Severity, line string) {
			e.hub.BroadcastLine(taskID, exec.ID, string(sev), line)
		}
	}

	out, outcome, runErr := sandbox.Run(ctx, sandbox.Input{
		Code:           tpl.Code,
		Params:         task.Params,
		Credentials:    inject.Credentials,
		ScratchDir:     scratchDir,
		AllowedEnvVars: e.allowedEnvVars,
		MaxConsoleSize: e.maxConsoleSize,
		StartedAt:      startedAt,
		Deadline:       deadline,
		OnLine:         onLine,
	})

	finishedAt := time.Now().UTC()
	result := Result{Execution: exec}
	fields := store.UpdateFields{
		FinishedAt: finishedAt,
		Output:     store.ExecutionOutput{Console: out.Console},
	}

	switch {
	case runErr == nil:
		fields.Status = store.StatusSuccess
		fields.Output.Result = out.Result
		result.Success = true
		result.Output = fields.Output
	case outcome == sandbox.OutcomeTimeout:
		msg := fmt.Sprintf("Execution timed out after %dms", timeoutMs.Milliseconds())
		fields.Status = store.StatusTimeout
		fields.Error = &msg
		result.Error = msg
		result.Kind = automerr.KindTimeout
	case outcome == sandbox.OutcomeModuleNotAllowed:
		msg := runErr.Error()
		fields.Status = store.StatusFailed
		fields.Error = &msg
		result.Error = msg
		result.Kind = automerr.KindModule
	default:
		msg := runErr.Error()
		fields.Status = store.StatusFailed
		fields.Error = &msg
		result.Error = msg
		result.Kind = automerr.KindExecution
	}

	if err := e.store.Executions().Update(ctx, exec.ID, fields); err != nil {
		return result, automerr.New("Executor.Run", automerr.KindIO, err)
	}
	exec.Status = fields.Status
	exec.FinishedAt = &finishedAt
	exec.Output = fields.Output
	exec.Error = fields.Error

	if err := e.store.Tasks().UpdateLastRun(ctx, taskID, finishedAt, task.NextRunAt); err != nil {
		return result, automerr.New("Executor.Run", automerr.KindIO, err)
	}

	if e.hub != nil {
		e.hub.BroadcastStatus(taskID, exec.ID, string(fields.Status))
	}
	if e.notify != nil {
		e.notify.Send(string(fields.Status), map[string]interface{}{
			"task_id":      taskID,
			"execution_id": exec.ID,
			"error":        result.Error,
		})
	}
	return result, nil
}

// PreflightResult is the report returned by Preflight.
type PreflightResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Preflight validates a task without executing it: steps 1-4 of Run, with
// step 4 replaced by presence validation (no decryption), plus params
// validated against the template's schema. No execution row is created.
func (e *Executor) Preflight(ctx context.Context, taskID int64) (PreflightResult, error) {
	res := PreflightResult{}

	task, err := e.store.Tasks().Get(ctx, taskID)
	if err != nil {
		return res, automerr.New("Executor.Preflight", automerr.KindValidation, err)
	}
	tpl, err := e.store.Templates().Get(ctx, task.TemplateID)
	if err != nil {
		return res, automerr.New("Executor.Preflight", automerr.KindValidation, err)
	}

	if !task.Enabled {
		res.Warnings = append(res.Warnings, "task is disabled")
	}

	credNames := unionCredentialNames(tpl.RequiredCredentials, task.Credentials)
	presence, err := e.injector.Validate(ctx, credNames)
	if err != nil {
		return res, automerr.New("Executor.Preflight", automerr.KindIO, err)
	}
	for _, name := range credNames {
		if !presence[name] {
			res.Errors = append(res.Errors, fmt.Sprintf("credential %q is not available", name))
		}
	}

	for _, p := range tpl.ParamsSchema {
		if p.Required {
			if _, ok := task.Params[p.Name]; !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("missing required param %q", p.Name))
			}
		}
	}

	res.Valid = len(res.Errors) == 0
	return res, nil
}

func unionCredentialNames(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, n := range list {
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
