// Package ui renders plans, run headers and failure reports for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/haricheung/sconny/internal/plan"
	"github.com/haricheung/sconny/internal/shell"
	"github.com/mattn/go-runewidth"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

var riskColor = map[string]string{
	plan.RiskLow:    ansiGreen,
	plan.RiskMedium: ansiYellow,
	plan.RiskHigh:   ansiRed,
}

// Printer writes user-facing output. Command stdout goes to Out and command
// stderr to Err; everything else goes to Out.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	color bool
}

// New creates a Printer. color enables ANSI styling and should only be set
// when out is a terminal.
func New(out, errOut io.Writer, color bool) *Printer {
	return &Printer{Out: out, Err: errOut, color: color}
}

func (p *Printer) paint(code, s string) string {
	if !p.color || code == "" {
		return s
	}
	return code + s + ansiReset
}

// Plan prints the plan summary shown before any gating decision.
//
// Expectations:
//   - Header "=== PLAN ===" preceded by a blank line
//   - "Explain:" line only when explain is present and non-empty
//   - "Risk: unknown" when risk is absent, the raw value otherwise
//   - Commands numbered from 1
//   - Assumptions and Notes sections omitted when empty
func (p *Printer) Plan(pl *plan.CommandPlan) {
	var b strings.Builder
	b.WriteString("\n" + p.paint(ansiBold+ansiCyan, "=== PLAN ===") + "\n")
	if explain := pl.ExplainText(); explain != "" {
		fmt.Fprintf(&b, "Explain: %s\n", explain)
	}
	risk := pl.RiskLabel()
	fmt.Fprintf(&b, "Risk: %s\n", p.paint(riskColor[pl.GateRisk()], risk))
	fmt.Fprintf(&b, "Needs confirmation (plan): %t\n", pl.PlanNeedsConfirmation())
	b.WriteString("\nCommands:\n")
	for i, c := range pl.Cmd {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, c)
	}
	writeList(&b, "Assumptions", pl.Assumptions)
	writeList(&b, "Notes", pl.Notes)
	fmt.Fprint(p.Out, b.String())
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, x := range items {
		fmt.Fprintf(b, "  - %s\n", x)
	}
}

// Running prints the header shown before command i (0-based) of n.
func (p *Printer) Running(i, n int, command string) {
	fmt.Fprintf(p.Out, "\n%s\n%s\n", p.paint(ansiDim, fmt.Sprintf("--- Running (%d/%d) ---", i+1, n)), command)
}

// Relay copies a finished command's captured streams to Out and Err.
func (p *Printer) Relay(res *shell.Result) {
	if res.Stdout != "" {
		fmt.Fprint(p.Out, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(p.Err, res.Stderr)
	}
}

// Notice prints a one-line status message such as "Cancelled.".
func (p *Printer) Notice(msg string) {
	fmt.Fprintln(p.Out, msg)
}

// Warn prints a highlighted warning line.
func (p *Printer) Warn(msg string) {
	fmt.Fprintln(p.Out, p.paint(ansiYellow, "⚠️  "+msg))
}

// Error prints msg to Err in red.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.Err, p.paint(ansiRed, msg))
}

// FormatFailure renders a failed command's status and captured streams.
//
// Expectations:
//   - "Command failed (code=N)." for a plain non-zero exit
//   - "code=unknown" when the process was killed without a status
//   - "code=timeout" when the time limit stopped the command
//   - Both stream sections are always present, even when empty
func FormatFailure(res *shell.Result) string {
	return fmt.Sprintf("Command failed (code=%s).\n--- stdout ---\n%s\n--- stderr ---\n%s",
		res.ExitStatus(), res.Stdout, res.Stderr)
}

// Clip truncates s to at most width terminal columns, appending "…" if trimmed.
// Wide runes (CJK, emoji) count as two columns.
func Clip(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
