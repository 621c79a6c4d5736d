// Package shell runs one shell command string under a hard timeout and
// captures its output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultTimeoutSec = 15

	// ExitUnknown is the exit code reported when the process was killed by a
	// signal and no exit status exists.
	ExitUnknown = -1

	// timeoutExitCode is what timeout(1) exits with when the limit is hit.
	timeoutExitCode = 124
)

// ErrLaunchFailed is returned when the shell process could not be started.
var ErrLaunchFailed = errors.New("shell: launch failed")

// Result is the outcome of one command.
type Result struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Success reports whether the command exited 0 within its time limit.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// ExitStatus renders the exit status for reports: the code, "timeout", or
// "unknown" when the process was killed without one.
func (r *Result) ExitStatus() string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.ExitCode == ExitUnknown:
		return "unknown"
	default:
		return strconv.Itoa(r.ExitCode)
	}
}

// Runner executes commands through the platform shell. Create it once: New
// looks up timeout(1) a single time.
type Runner struct {
	shell       string
	shellFlag   string
	timeoutPath string        // "" when timeout(1) is unavailable or disabled
	grace       time.Duration // extra time the backstop deadline allows timeout(1)
	wantTimeout bool
}

// Option customises a Runner.
type Option func(*Runner)

// WithoutTimeoutUtility skips the timeout(1) lookup so the runner's own
// deadline is the only limit.
func WithoutTimeoutUtility() Option {
	return func(r *Runner) { r.wantTimeout = false }
}

// WithShell overrides the shell binary and the flag that precedes the command.
func WithShell(name, flag string) Option {
	return func(r *Runner) { r.shell, r.shellFlag = name, flag }
}

// New creates a Runner for the current platform.
//
// Expectations:
//   - Looks up timeout(1) exactly once; absence is logged, not fatal
//   - WithoutTimeoutUtility leaves timeoutPath empty
func New(opts ...Option) *Runner {
	name, flag := defaultShell()
	r := &Runner{shell: name, shellFlag: flag, grace: 2 * time.Second, wantTimeout: supportsTimeoutUtility}
	for _, o := range opts {
		o(r)
	}
	if r.wantTimeout {
		if p, err := exec.LookPath("timeout"); err == nil {
			r.timeoutPath = p
		}
	}
	if r.timeoutPath != "" {
		log.Printf("[SHELL] using %s for command timeouts", r.timeoutPath)
	} else {
		log.Printf("[SHELL] timeout(1) not used; enforcing deadlines in-process")
	}
	return r
}

// UsesTimeoutUtility reports whether commands are wrapped in timeout(1).
func (r *Runner) UsesTimeoutUtility() bool {
	return r.timeoutPath != ""
}

// Run executes command with a hard limit of timeoutSec seconds (15 when 0).
// A non-zero exit or a timeout is reported in the Result, not as an error;
// the error is reserved for launch failures and wraps ErrLaunchFailed.
//
// Expectations:
//   - Captures stdout and stderr separately
//   - Sets TimedOut when the deadline or timeout(1) stops the command
//   - A command that exits 124 by itself before the limit is a plain exit 124
//   - Kills the whole process group on deadline so children do not linger
//   - Reports ExitUnknown when the process died from a signal
//   - Returns ErrLaunchFailed when the shell cannot be started
func (r *Runner) Run(ctx context.Context, command string, timeoutSec uint) (*Result, error) {
	if timeoutSec == 0 {
		timeoutSec = defaultTimeoutSec
	}
	limit := time.Duration(timeoutSec) * time.Second

	name, args := r.argv(command, timeoutSec)
	deadline := limit
	if r.timeoutPath != "" {
		deadline += r.grace
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	configureProcess(cmd)
	cmd.Cancel = func() error {
		killProcess(cmd)
		return nil
	}
	cmd.WaitDelay = time.Second

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Command:  command,
		ExitCode: ExitUnknown,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Elapsed:  time.Since(start),
	}
	if cmd.ProcessState == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, name, err)
	}
	res.ExitCode = cmd.ProcessState.ExitCode()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
	}
	// timeout(1) exits 124 when it stops the command, but the command may also
	// exit 124 on its own; only the former has used up the limit.
	if r.timeoutPath != "" && res.ExitCode == timeoutExitCode && res.Elapsed >= limit {
		res.TimedOut = true
	}
	if res.TimedOut {
		log.Printf("[SHELL] timed out after %v: %s", limit, firstN(command, 120))
	}
	return res, nil
}

func (r *Runner) argv(command string, timeoutSec uint) (string, []string) {
	if r.timeoutPath != "" {
		return r.timeoutPath, []string{fmt.Sprintf("%ds", timeoutSec), r.shell, r.shellFlag, command}
	}
	return r.shell, []string{r.shellFlag, command}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
