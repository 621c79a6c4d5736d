// Package tasklog provides per-request structured logging.
//
// Each request gets one JSONL file in a configurable directory. Events capture
// every stage of a request: the provider call (with full prompts and the raw
// response body), extraction failures, the decoded plan or the text that
// failed to decode, the confirmation decision and each command's result.
// The raw body and malformed plan text live here and never reach the
// terminal.
//
// Design constraints:
//   - All TaskLog methods are nil-safe (no-op on nil receiver) so callers don't
//     need nil checks before every log call.
//   - Registry is the sole owner of JSONL persistence.
//   - The executor receives a *TaskLog as a method parameter, not in its
//     constructor, so it stays stateless across requests.
package tasklog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haricheung/sconny/internal/shell"
)

// EventKind labels a single structured event in the request log.
type EventKind string

const (
	KindRequestBegin  EventKind = "request_begin"
	KindRequestEnd    EventKind = "request_end"
	KindLLMCall       EventKind = "llm_call"
	KindExtractFailed EventKind = "extract_failed"
	KindPlan          EventKind = "plan"
	KindConfirmation  EventKind = "confirmation"
	KindCommand       EventKind = "command"
)

// Event is one JSONL line in the request log.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// request_begin / request_end
	RequestID        string `json:"request_id,omitempty"`
	Request          string `json:"request,omitempty"`
	Status           string `json:"status,omitempty"`
	ElapsedMs        int64  `json:"elapsed_ms,omitempty"`
	LLMCalls         int    `json:"llm_calls,omitempty"`          // request_end only
	CommandCount     int    `json:"command_count,omitempty"`      // request_end only
	CommandElapsedMs int64  `json:"command_elapsed_ms,omitempty"` // request_end only

	// llm_call
	Service      string `json:"service,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	UserPrompt   string `json:"user_prompt,omitempty"`
	Response     string `json:"response,omitempty"` // raw provider body

	// extract_failed / plan
	Answer   string   `json:"answer,omitempty"`
	Commands []string `json:"commands,omitempty"`
	Risk     string   `json:"risk,omitempty"`
	Error    string   `json:"error,omitempty"`

	// confirmation
	Accepted *bool `json:"accepted,omitempty"` // pointer: false must be serialised

	// command
	Sequence int    `json:"sequence,omitempty"` // 1-based
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// RequestStats aggregates the cost of one request.
//
// Expectations:
//   - LLMCalls equals the number of LLMCall invocations
//   - CommandCount equals the number of Command invocations
//   - CommandElapsedMs is the sum of the elapsed time of every command result
type RequestStats struct {
	LLMCalls         int   `json:"llm_calls"`
	LLMElapsedMs     int64 `json:"llm_elapsed_ms"`
	CommandCount     int   `json:"command_count"`
	CommandElapsedMs int64 `json:"command_elapsed_ms"`
}

// TaskLog is a handle for writing structured events for one request.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *TaskLog)
//   - Concurrent writes are safe (mutex-protected)
type TaskLog struct {
	requestID string
	started   time.Time
	mu        sync.Mutex
	f         *os.File
	stats     RequestStats
}

// Registry maps request IDs to open TaskLogs.
// It is the sole authority for creating and closing request log files.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes a request_begin event as the first JSONL line
//   - Open returns the existing log without re-opening when called twice for the same ID
//   - Close writes request_end with status and totals before flushing
//   - Close removes the ID and returns the final stats; nothing is kept after it
//   - Close no-ops gracefully when the ID is not registered
//   - A nil *Registry hands out nil logs, which disables logging
type Registry struct {
	dir  string
	mu   sync.Mutex
	logs map[string]*TaskLog
}

// NewRegistry creates a Registry that writes one JSONL file per request under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:  dir,
		logs: make(map[string]*TaskLog),
	}
}

// Dir returns the directory log files are written to.
func (r *Registry) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Open creates a new TaskLog for requestID, writes a request_begin event, and registers it.
func (r *Registry) Open(requestID, request string) *TaskLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if tl, ok := r.logs[requestID]; ok {
		return tl
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Error("[TASKLOG] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, requestID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[TASKLOG] could not open log file", "path", path, "error", err)
		return nil
	}

	tl := &TaskLog{requestID: requestID, started: time.Now(), f: f}
	r.logs[requestID] = tl
	tl.write(Event{
		Kind:      KindRequestBegin,
		RequestID: requestID,
		Request:   request,
	})
	return tl
}

// Close writes a request_end event, flushes and closes the file, removes the
// entry from the registry and returns the request's final stats. It returns
// nil on a nil *Registry or an unknown ID.
func (r *Registry) Close(requestID, status string) *RequestStats {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	tl, ok := r.logs[requestID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	stats := tl.Stats()
	delete(r.logs, requestID)
	r.mu.Unlock()

	tl.mu.Lock()
	elapsed := time.Since(tl.started).Milliseconds()
	tl.mu.Unlock()

	tl.write(Event{
		Kind:             KindRequestEnd,
		RequestID:        requestID,
		Status:           status,
		ElapsedMs:        elapsed,
		LLMCalls:         stats.LLMCalls,
		CommandCount:     stats.CommandCount,
		CommandElapsedMs: stats.CommandElapsedMs,
	})

	tl.mu.Lock()
	if tl.f != nil {
		_ = tl.f.Close()
		tl.f = nil
	}
	tl.mu.Unlock()
	return stats
}

// LLMCall writes an llm_call event with full prompts and the raw response
// body. errText is empty on success.
func (tl *TaskLog) LLMCall(service, model, systemPrompt, userPrompt, rawResponse string, elapsedMs int64, errText string) {
	if tl == nil {
		return
	}
	tl.mu.Lock()
	tl.stats.LLMCalls++
	tl.stats.LLMElapsedMs += elapsedMs
	tl.mu.Unlock()
	tl.write(Event{
		Kind:         KindLLMCall,
		Service:      service,
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Response:     rawResponse,
		ElapsedMs:    elapsedMs,
		Error:        errText,
	})
}

// ExtractFailed records why the answer could not be located in the raw body.
// The body itself is already on the preceding llm_call event.
func (tl *TaskLog) ExtractFailed(errText string) {
	if tl == nil {
		return
	}
	tl.write(Event{Kind: KindExtractFailed, Error: errText})
}

// Plan records the answer text and, when it decoded, the commands and risk.
// On a decode failure errText is set and the malformed answer is preserved.
func (tl *TaskLog) Plan(answer string, commands []string, risk, errText string) {
	if tl == nil {
		return
	}
	tl.write(Event{
		Kind:     KindPlan,
		Answer:   answer,
		Commands: commands,
		Risk:     risk,
		Error:    errText,
	})
}

// Confirmation records the confirmation decision for the effective risk.
func (tl *TaskLog) Confirmation(risk string, accepted bool) {
	if tl == nil {
		return
	}
	a := accepted
	tl.write(Event{Kind: KindConfirmation, Risk: risk, Accepted: &a})
}

// Command writes a command event. res is nil when the shell could not be
// launched, in which case errText says why.
//
// Expectations:
//   - CommandCount increments by 1 per invocation
//   - CommandElapsedMs accumulates res.Elapsed
//   - exit_code is serialised even when it is 0
func (tl *TaskLog) Command(index int, command string, res *shell.Result, errText string) {
	if tl == nil {
		return
	}
	e := Event{Kind: KindCommand, Sequence: index + 1, Command: command, Error: errText}
	var elapsed int64
	if res != nil {
		code := res.ExitCode
		e.ExitCode = &code
		e.TimedOut = res.TimedOut
		e.Stdout = res.Stdout
		e.Stderr = res.Stderr
		e.ElapsedMs = res.Elapsed.Milliseconds()
		elapsed = e.ElapsedMs
	}
	tl.mu.Lock()
	tl.stats.CommandCount++
	tl.stats.CommandElapsedMs += elapsed
	tl.mu.Unlock()
	tl.write(e)
}

// Stats returns a snapshot of the request's accumulated cost.
//
// Expectations:
//   - Returns nil on nil receiver
func (tl *TaskLog) Stats() *RequestStats {
	if tl == nil {
		return nil
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	s := tl.stats
	return &s
}

// write appends one JSON line to the request log file. Adds timestamp, mutex-protected.
func (tl *TaskLog) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[TASKLOG] marshal event", "error", err)
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f == nil {
		return
	}
	if _, err = fmt.Fprintf(tl.f, "%s\n", data); err != nil {
		slog.Error("[TASKLOG] write event", "error", err)
	}
}
