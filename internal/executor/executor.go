// Package executor gates and runs a CommandPlan.
//
// One plan moves through Validate → dry-run gate → confirmation gate →
// sequential run. Commands run in order, one at a time; the first failure
// aborts the rest. Nothing is rolled back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/haricheung/sconny/internal/guard"
	"github.com/haricheung/sconny/internal/plan"
	"github.com/haricheung/sconny/internal/policy"
	"github.com/haricheung/sconny/internal/shell"
	"github.com/haricheung/sconny/internal/tasklog"
	"github.com/haricheung/sconny/internal/ui"
)

// Status is the terminal state of one plan.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusDryRun    Status = "dry_run"
	StatusCancelled Status = "cancelled"
	StatusAborted   Status = "aborted"
)

// Runner runs one shell command. *shell.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, command string, timeoutSec uint) (*shell.Result, error)
}

// Confirmer asks the user prompt and reports whether the answer accepts the
// plan for the given risk. It must return false on EOF or read errors.
type Confirmer func(prompt, risk string) bool

// LineReader shows prompt and returns one line of input.
type LineReader func(prompt string) (string, error)

// ReadConfirmer builds a Confirmer that judges the line read with
// policy.Accepts. Any read error, io.EOF included, declines.
func ReadConfirmer(read LineReader) Confirmer {
	return func(prompt, risk string) bool {
		line, err := read(prompt)
		if err != nil {
			log.Printf("[EXEC] confirmation read failed, declining: %v", err)
			return false
		}
		return policy.Accepts(risk, line)
	}
}

// Outcome aggregates one plan's execution.
type Outcome struct {
	Status      Status          `json:"status"`
	Results     []*shell.Result `json:"results,omitempty"`
	FailedIndex int             `json:"failed_index"` // -1 unless Status is aborted
	Risk        string          `json:"risk"`         // effective gating risk
	GuardReason string          `json:"guard_reason,omitempty"`
}

// CommandError reports the command that aborted the sequence. Result is nil
// when the shell could not be launched.
type CommandError struct {
	Index   int
	Command string
	Result  *shell.Result
	Err     error
}

func (e *CommandError) Error() string {
	if e.Result == nil {
		return fmt.Sprintf("command %d (%s) could not start: %v", e.Index+1, e.Command, e.Err)
	}
	return fmt.Sprintf("command %d (%s) failed with exit status %s", e.Index+1, e.Command, e.Result.ExitStatus())
}

func (e *CommandError) Unwrap() error { return e.Err }

// ErrTimedOut is wrapped by a CommandError whose command hit its time limit.
var ErrTimedOut = errors.New("command timed out")

// ErrExitStatus is wrapped by a CommandError whose command exited non-zero.
var ErrExitStatus = errors.New("command exited non-zero")

// Executor runs plans under a fixed Policy.
type Executor struct {
	policy  policy.Policy
	runner  Runner
	confirm Confirmer
	guard   *guard.Guard
	out     *ui.Printer
}

// Option customises an Executor.
type Option func(*Executor)

// WithRunner replaces the shell runner.
func WithRunner(r Runner) Option { return func(e *Executor) { e.runner = r } }

// WithConfirmer sets the confirmation capability. Without one every
// confirmation is declined.
func WithConfirmer(c Confirmer) Option { return func(e *Executor) { e.confirm = c } }

// WithGuard enables command screening; a nil guard disables it.
func WithGuard(g *guard.Guard) Option { return func(e *Executor) { e.guard = g } }

// WithPrinter sets where plan text and command output are written.
func WithPrinter(p *ui.Printer) Option { return func(e *Executor) { e.out = p } }

// New creates an Executor for pol.
func New(pol policy.Policy, opts ...Option) *Executor {
	e := &Executor{policy: pol}
	for _, o := range opts {
		o(e)
	}
	if e.runner == nil {
		e.runner = shell.New()
	}
	if e.confirm == nil {
		e.confirm = func(string, string) bool { return false }
	}
	if e.out == nil {
		e.out = ui.New(os.Stdout, os.Stderr, false)
	}
	return e
}

// Policy returns the policy the Executor was built with.
func (e *Executor) Policy() policy.Policy { return e.policy }

// Run prints p, applies the policy and runs its commands. tlog may be nil.
//
// Expectations:
//   - Returns plan.ErrEmptyPlan and runs nothing when p has no commands
//   - Dry run prints the plan and never runs or confirms, whatever the risk
//   - Confirmation is asked when the policy requires it, the plan asks for it,
//     or the guard flags a command; a guard hit raises the risk to high
//   - Without a guard (--no-guard) only the policy and the plan's
//     needs_confirmation decide whether to ask
//   - High risk accepts only the exact token YES; other risks accept y/yes
//   - A decline returns StatusCancelled with a nil error
//   - Runs commands in order; relays each command's streams after it finishes
//   - Stops at the first failing command: StatusAborted, FailedIndex set, and
//     a *CommandError; later commands are never started
//   - Partial results of commands that already ran are kept in Results
func (e *Executor) Run(ctx context.Context, p *plan.CommandPlan, tlog *tasklog.TaskLog) (*Outcome, error) {
	e.out.Plan(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := &Outcome{FailedIndex: -1, Risk: p.GateRisk()}
	mustConfirm := policy.NeedsConfirmation(e.policy, p.PlanNeedsConfirmation())
	if e.guard != nil {
		if idx, reason := e.guard.CheckAll(p.Cmd); idx >= 0 {
			out.Risk = plan.RiskHigh
			out.GuardReason = reason
			mustConfirm = true
			e.out.Warn(fmt.Sprintf("command %d flagged: %s", idx+1, reason))
			log.Printf("[EXEC] guard flagged cmd %d: %s", idx+1, reason)
		}
	}

	if e.policy.DryRun {
		e.out.Notice("\n[dry_run=true] Not executing commands.")
		out.Status = StatusDryRun
		return out, nil
	}

	if mustConfirm {
		accepted := e.confirm("\n"+policy.PromptFor(out.Risk), out.Risk)
		tlog.Confirmation(out.Risk, accepted)
		if !accepted {
			e.out.Notice("Cancelled.")
			out.Status = StatusCancelled
			return out, nil
		}
	}

	n := len(p.Cmd)
	for i, c := range p.Cmd {
		e.out.Running(i, n, c)
		res, err := e.runner.Run(ctx, c, e.policy.TimeoutSec)
		if err != nil {
			tlog.Command(i, c, nil, err.Error())
			log.Printf("[EXEC] cmd %d/%d launch failed: %v", i+1, n, err)
			out.Status = StatusAborted
			out.FailedIndex = i
			return out, &CommandError{Index: i, Command: c, Err: err}
		}
		out.Results = append(out.Results, res)
		tlog.Command(i, c, res, "")
		if !res.Success() {
			log.Printf("[EXEC] cmd %d/%d failed status=%s", i+1, n, res.ExitStatus())
			out.Status = StatusAborted
			out.FailedIndex = i
			cause := ErrExitStatus
			if res.TimedOut {
				cause = ErrTimedOut
			}
			return out, &CommandError{Index: i, Command: c, Result: res, Err: cause}
		}
		e.out.Relay(res)
	}
	out.Status = StatusCompleted
	return out, nil
}
