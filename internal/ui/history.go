package ui

import (
	"fmt"
	"strings"

	"github.com/haricheung/sconny/internal/history"
)

var statusColor = map[string]string{
	"completed": ansiGreen,
	"dry_run":   ansiCyan,
	"cancelled": ansiYellow,
	"aborted":   ansiRed,
}

// History prints entries newest first, one request per line followed by its
// commands. Long requests are clipped to 60 columns.
//
// Expectations:
//   - "(no history)" when entries is empty
//   - Each line shows local time, status and the clipped request
//   - The failing command is marked with "✗"
func (p *Printer) History(entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(p.Out, "(no history)")
		return
	}
	var b strings.Builder
	for _, e := range entries {
		status := e.Status
		code := statusColor[status]
		if code == "" && strings.HasPrefix(status, "failed") {
			code = ansiRed
		}
		fmt.Fprintf(&b, "%s  %s  %s\n",
			p.paint(ansiDim, e.Time.Local().Format("2006-01-02 15:04:05")),
			p.paint(code, fmt.Sprintf("%-16s", status)),
			Clip(e.Request, 60))
		for i, c := range e.Commands {
			mark := " "
			if i == e.FailedIndex {
				mark = p.paint(ansiRed, "✗")
			}
			fmt.Fprintf(&b, "    %s %d. %s\n", mark, i+1, Clip(c, 72))
		}
	}
	fmt.Fprint(p.Out, b.String())
}

// HistoryEntry prints one entry in full: id, timing, commands and error.
//
// Expectations:
//   - Shows id, status, risk and the unclipped request
//   - Shows LLM and command timings when recorded
//   - Shows the error line only for failed requests
func (p *Printer) HistoryEntry(e history.Entry) {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:       %s\n", e.ID)
	fmt.Fprintf(&b, "Time:     %s\n", e.Time.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Request:  %s\n", e.Request)
	fmt.Fprintf(&b, "Status:   %s\n", p.paint(statusColor[e.Status], e.Status))
	if e.Risk != "" {
		fmt.Fprintf(&b, "Risk:     %s\n", e.Risk)
	}
	if e.Service != "" {
		fmt.Fprintf(&b, "Model:    %s/%s\n", e.Service, e.Model)
	}
	if e.ElapsedMs > 0 || e.LLMCalls > 0 {
		fmt.Fprintf(&b, "Timing:   total %dms, llm %dms (%d calls), commands %dms (%d run)\n",
			e.ElapsedMs, e.LLMElapsedMs, e.LLMCalls, e.CommandElapsedMs, e.CommandCount)
	}
	if len(e.Commands) > 0 {
		b.WriteString("Commands:\n")
		for i, c := range e.Commands {
			mark := " "
			if i == e.FailedIndex {
				mark = p.paint(ansiRed, "✗")
			}
			fmt.Fprintf(&b, "  %s %d. %s\n", mark, i+1, c)
		}
	}
	if e.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", p.paint(ansiRed, e.Error))
	}
	fmt.Fprint(p.Out, b.String())
}
