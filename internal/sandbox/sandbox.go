// Package sandbox runs template code inside a fresh goja (pure-Go
// ECMAScript) runtime per execution, exposing exactly the capability table
// from spec.md §4.2 — nothing more.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/dop251/goja"
)

// Input bundles everything a single Run needs: the template body, resolved
// params, decrypted credentials, and the scratch dir/deadline that bound
// the sandbox's filesystem and subprocess capabilities.
type Input struct {
	Code           string
	Params         map[string]interface{}
	Credentials    map[string]string
	ScratchDir     string
	AllowedEnvVars []string
	MaxConsoleSize int
	Deadline       time.Time
	StartedAt      time.Time

	// OnLine, if set, is invoked synchronously for every console line as
	// it is captured, for live streaming to subscribers.
	OnLine func(sev Severity, line string)
}

// Output is what survives a Run: captured console lines and the JSON-coded
// return value of the template body.
type Output struct {
	Console []string
	Result  json.RawMessage
}

// Outcome classifies how a Run ended, so the Executor can map it onto
// spec.md §4.2 steps 7-9 without re-parsing error strings itself for the
// common cases.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRuntimeError
	OutcomeTimeout
	OutcomeModuleNotAllowed
)

// Run executes code in a fresh runtime and blocks until it settles or ctx
// is done / the deadline passes, whichever comes first.
func Run(ctx context.Context, in Input) (Output, Outcome, error) {
	console := NewConsole(in.MaxConsoleSize)
	if in.OnLine != nil {
		console.OnLine(in.OnLine)
	}
	out := Output{}

	runCtx, cancel := context.WithDeadline(ctx, in.Deadline)
	defer cancel()

	caps := newCapabilities(in.ScratchDir, in.AllowedEnvVars, in.Deadline)

	vm := goja.New()
	if err := bindGlobals(vm, runCtx, caps, console, in); err != nil {
		return out, OutcomeRuntimeError, fmt.Errorf("sandbox.Run: bind globals: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("execution deadline exceeded")
		case <-done:
		}
	}()

	wrapped := "(function(){\n" + in.Code + "\n})()"
	value, runErr := vm.RunString(wrapped)
	close(done)
	out.Console = console.Lines()

	if runErr != nil {
		outcome := classify(runCtx, runErr)
		if outcome == OutcomeModuleNotAllowed {
			name, _ := extractModuleName(runErr.Error())
			return out, outcome, fmt.Errorf("Module '%s' is not allowed", name)
		}
		return out, outcome, translateErr(runErr)
	}

	result, err := json.Marshal(value.Export())
	if err != nil {
		return out, OutcomeRuntimeError, fmt.Errorf("sandbox.Run: marshal result: %w", err)
	}
	out.Result = result
	return out, OutcomeSuccess, nil
}

// moduleQuoteRe matches the message our require stub throws:
// "'net' is not allowed".
var moduleQuoteRe = regexp.MustCompile(`'([^']+)' is not allowed`)

// refNotDefinedRe matches goja's own ReferenceError text for any other
// capability that was simply never registered (e.g. "process", "global"):
// "ReferenceError: process is not defined".
var refNotDefinedRe = regexp.MustCompile(`ReferenceError: (\S+) is not defined`)

// extractModuleName pulls the disallowed identifier out of either error
// shape so the caller can name it in the spec-mandated failure message.
func extractModuleName(msg string) (string, bool) {
	if m := moduleQuoteRe.FindStringSubmatch(msg); m != nil {
		return m[1], true
	}
	if m := refNotDefinedRe.FindStringSubmatch(msg); m != nil {
		return m[1], true
	}
	return "", false
}

func classify(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return OutcomeTimeout
	}
	if _, ok := err.(*goja.InterruptedError); ok {
		return OutcomeTimeout
	}
	if _, ok := extractModuleName(err.Error()); ok {
		return OutcomeModuleNotAllowed
	}
	return OutcomeRuntimeError
}

func translateErr(err error) error {
	return fmt.Errorf("template execution failed: %w", err)
}

func bindGlobals(vm *goja.Runtime, ctx context.Context, caps *Capabilities, console *Console, in Input) error {
	sets := map[string]interface{}{
		"params":      in.Params,
		"credentials": in.Credentials,
		"console": map[string]interface{}{
			"log":   func(args ...interface{}) { console.Capture(SeverityLog, args...) },
			"warn":  func(args ...interface{}) { console.Capture(SeverityWarn, args...) },
			"error": func(args ...interface{}) { console.Capture(SeverityError, args...) },
			"info":  func(args ...interface{}) { console.Capture(SeverityInfo, args...) },
			"debug": func(args ...interface{}) { console.Capture(SeverityDebug, args...) },
		},
		// require is bound (unlike every other disallowed capability, which
		// is simply never registered) so a rejected require("x") can name
		// "x" in its failure message instead of surfacing as a bare
		// "require is not defined".
		"require": func(name string) (goja.Value, error) {
			return nil, fmt.Errorf("'%s' is not allowed", name)
		},
		"now": func() int64 { return in.StartedAt.UnixMilli() },
		"sleep": func(ms int) error {
			return caps.sleep(ctx, ms)
		},
		"fs":     caps.fsModule(),
		"os":     caps.osModule(ctx),
		"http":   caps.httpModule(),
		"crypto": cryptoModule(),
		"path":   pathModule(),
	}
	for name, val := range sets {
		if err := vm.Set(name, val); err != nil {
			return fmt.Errorf("set %q: %w", name, err)
		}
	}
	return nil
}
