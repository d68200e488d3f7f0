package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a fault for propagation and exit-code mapping
type Kind int

const (
	// KindNone means the error is not a classified fault
	KindNone Kind = iota

	// KindFatalConfig is a schema or cycle violation detected before
	// any mutation; the run aborts without touching the host
	KindFatalConfig

	// KindFatalOperation is a required external command failure; the
	// remaining pipeline is aborted, the guest stays in last-known state
	KindFatalOperation

	// KindDegraded is a best-effort step failure; the run continues
	// but the warning is surfaced in the final summary
	KindDegraded
)

func (k Kind) String() string {
	switch k {
	case KindFatalConfig:
		return "fatal-config"
	case KindFatalOperation:
		return "fatal-operation"
	case KindDegraded:
		return "degraded"
	}
	return "none"
}

// Fault is a classified orchestrator error. Fatal faults carry the
// failing target and step, and where an external command was involved,
// the exact command line and its output for the operator.
type Fault struct {
	Kind    Kind
	Target  string
	Step    string
	Command string
	Output  string
	Err     error
}

func (f *Fault) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", f.Kind)
	if f.Target != "" {
		fmt.Fprintf(&b, " target=%s", f.Target)
	}
	if f.Step != "" {
		fmt.Fprintf(&b, " step=%s", f.Step)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// WithCommand attaches the last external command attempted and its output
func (f *Fault) WithCommand(command, output string) *Fault {
	f.Command = command
	f.Output = output
	return f
}

// Config builds a FatalConfig fault
func Config(step string, err error) *Fault {
	return &Fault{Kind: KindFatalConfig, Step: step, Err: err}
}

// Operation builds a FatalOperation fault for a target and step
func Operation(target, step string, err error) *Fault {
	return &Fault{Kind: KindFatalOperation, Target: target, Step: step, Err: err}
}

// Degraded builds a non-fatal degraded fault
func Degraded(target, step string, err error) *Fault {
	return &Fault{Kind: KindDegraded, Target: target, Step: step, Err: err}
}

// KindOf classifies an arbitrary error
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if err != nil {
		return KindFatalOperation
	}
	return KindNone
}

// Exit codes for the CLI surface
const (
	ExitOK             = 0
	ExitFatalConfig    = 1
	ExitFatalOperation = 2
	ExitDegraded       = 3
)

// ExitCode maps an error (or nil) plus accumulated warnings to the
// process exit code
func ExitCode(err error, degraded bool) int {
	switch KindOf(err) {
	case KindFatalConfig:
		return ExitFatalConfig
	case KindFatalOperation:
		return ExitFatalOperation
	case KindNone:
		if degraded {
			return ExitDegraded
		}
		return ExitOK
	}
	return ExitFatalOperation
}

// Warning is one accumulated degraded-step report
type Warning struct {
	Target string
	Step   string
	Msg    string
}

func (w Warning) String() string {
	if w.Target == "" {
		return fmt.Sprintf("%s: %s", w.Step, w.Msg)
	}
	return fmt.Sprintf("%s/%s: %s", w.Target, w.Step, w.Msg)
}

// Warnings accumulates degraded-step reports across a run. The
// orchestrator is single-threaded so no locking is needed.
type Warnings struct {
	list []Warning
}

// Add records a warning
func (w *Warnings) Add(target, step, msg string) {
	w.list = append(w.list, Warning{Target: target, Step: step, Msg: msg})
}

// AddFault records a degraded fault as a warning
func (w *Warnings) AddFault(f *Fault) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	w.Add(f.Target, f.Step, msg)
}

// Empty reports whether any warnings were accumulated
func (w *Warnings) Empty() bool {
	return len(w.list) == 0
}

// List returns the accumulated warnings in order
func (w *Warnings) List() []Warning {
	return w.list
}

// Strings returns the warnings rendered for the run report
func (w *Warnings) Strings() []string {
	out := make([]string, 0, len(w.list))
	for _, warn := range w.list {
		out = append(out, warn.String())
	}
	return out
}
