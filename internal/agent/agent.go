// Package agent runs one natural-language request through the whole pipeline:
// prompt → provider → answer extraction → plan decode → gated execution.
//
// Every failure is returned as an *Error tagged with the stage that produced
// it; none of them ends the process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/sconny/internal/executor"
	"github.com/haricheung/sconny/internal/extract"
	"github.com/haricheung/sconny/internal/history"
	"github.com/haricheung/sconny/internal/llm"
	"github.com/haricheung/sconny/internal/plan"
	"github.com/haricheung/sconny/internal/prompt"
	"github.com/haricheung/sconny/internal/tasklog"
	"github.com/haricheung/sconny/internal/ui"
)

// Stage names the pipeline step an Error came from.
type Stage string

const (
	StageRequest    Stage = "request"
	StageTransport  Stage = "transport"
	StageExtraction Stage = "extraction"
	StageSchema     Stage = "schema"
	StageContent    Stage = "content"
	StageExecution  Stage = "execution"
)

// ErrEmptyRequest is returned for a blank request.
var ErrEmptyRequest = errors.New("Empty request")

// Error is a user-facing pipeline failure. Error() is the message shown to the
// user; Err keeps the cause for errors.Is/As.
type Error struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Generator produces a raw provider response body. *llm.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Report describes one handled request. Handle returns one for every
// non-blank request, failed or not.
type Report struct {
	ID      string
	Request string
	Answer  string
	Plan    *plan.CommandPlan
	Outcome *executor.Outcome
	Elapsed time.Duration
}

// Status returns the terminal state recorded in history and the request log.
func (r *Report) Status(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Stage != StageExecution {
		return "failed_" + string(ae.Stage)
	}
	if r.Outcome != nil {
		return string(r.Outcome.Status)
	}
	if err != nil {
		return "failed"
	}
	return "unknown"
}

// Deps wires an Agent. Gen, Kind and Exec are required; the rest are optional.
type Deps struct {
	Gen     Generator
	Kind    extract.ProviderKind
	Service string
	Model   string
	Exec    *executor.Executor
	Env     prompt.Env
	Logs    *tasklog.Registry
	History *history.Store
	Out     *ui.Printer
}

// Agent handles requests one at a time.
type Agent struct {
	d Deps
}

// New creates an Agent from d.
func New(d Deps) *Agent {
	if d.Service == "" {
		d.Service = d.Kind.String()
	}
	return &Agent{d: d}
}

// Handle turns request into a plan and executes it.
//
// Expectations:
//   - A blank request returns ErrEmptyRequest without calling the provider
//   - Each request gets a fresh uuid, its own request log and history entry
//   - Transport failures are StageTransport, surfaced with the provider's body
//   - A body without the answer field is StageExtraction, "failed to extract answer text"
//   - Undecodable answers are StageSchema, "failed to parse plan JSON: <detail>"
//   - An empty cmd list is StageContent, "LLM returned empty cmd list. Aborting."
//   - A failing command is StageExecution with its streams and exit status
func (a *Agent) Handle(ctx context.Context, request string) (*Report, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, &Error{Stage: StageRequest, Message: ErrEmptyRequest.Error(), Err: ErrEmptyRequest}
	}
	rep := &Report{ID: uuid.New().String(), Request: request}
	start := time.Now()
	tlog := a.d.Logs.Open(rep.ID, request)

	err := a.handle(ctx, rep, tlog)
	rep.Elapsed = time.Since(start)
	a.finish(rep, err)
	return rep, err
}

// HandleAnswer decodes and executes an answer text without calling the
// provider. An empty id gets a fresh uuid.
func (a *Agent) HandleAnswer(ctx context.Context, id, answerText string) (*Report, error) {
	if id == "" {
		id = uuid.New().String()
	}
	rep := &Report{ID: id, Request: answerText}
	start := time.Now()
	tlog := a.d.Logs.Open(rep.ID, answerText)

	err := a.execute(ctx, rep, tlog, answerText)
	rep.Elapsed = time.Since(start)
	a.finish(rep, err)
	return rep, err
}

func (a *Agent) handle(ctx context.Context, rep *Report, tlog *tasklog.TaskLog) error {
	pr := prompt.Build(a.d.Env, prompt.Params{Policy: a.d.Exec.Policy(), Service: a.d.Service, Model: a.d.Model}, rep.Request)

	log.Printf("[AGENT] request %s: %q", rep.ID, rep.Request)
	stop := a.spin(ctx)
	t0 := time.Now()
	raw, err := a.d.Gen.Generate(ctx, pr.System, pr.User)
	elapsed := time.Since(t0)
	stop()

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	tlog.LLMCall(a.d.Service, a.d.Model, pr.System, pr.User, raw, elapsed.Milliseconds(), errText)
	if err != nil {
		log.Printf("[AGENT] transport failed after %v: %v", elapsed.Round(time.Millisecond), err)
		return transportError(err)
	}

	answer, err := extract.Answer(a.d.Kind, raw)
	if err != nil {
		tlog.ExtractFailed(err.Error())
		log.Printf("[AGENT] extract failed (%s): %v", a.d.Kind, err)
		return &Error{Stage: StageExtraction, Message: "failed to extract answer text", Err: err}
	}
	return a.execute(ctx, rep, tlog, answer)
}

func (a *Agent) execute(ctx context.Context, rep *Report, tlog *tasklog.TaskLog, answer string) error {
	rep.Answer = llm.StripFences(answer)

	p, err := plan.Decode(rep.Answer)
	if err != nil {
		tlog.Plan(rep.Answer, nil, "", err.Error())
		log.Printf("[AGENT] plan decode failed: %v", err)
		return &Error{Stage: StageSchema, Message: err.Error(), Err: err}
	}
	rep.Plan = p
	tlog.Plan(rep.Answer, p.Cmd, p.RiskLabel(), "")

	out, err := a.d.Exec.Run(ctx, p, tlog)
	rep.Outcome = out
	if errors.Is(err, plan.ErrEmptyPlan) {
		return &Error{Stage: StageContent, Message: "LLM returned empty cmd list. Aborting.", Err: err}
	}
	if err != nil {
		return executionError(err, len(p.Cmd))
	}
	return nil
}

func (a *Agent) finish(rep *Report, err error) {
	status := rep.Status(err)
	stats := a.d.Logs.Close(rep.ID, status)

	e := history.Entry{
		ID:          rep.ID,
		Request:     rep.Request,
		Service:     a.d.Service,
		Model:       a.d.Model,
		Status:      status,
		FailedIndex: -1,
		ElapsedMs:   rep.Elapsed.Milliseconds(),
	}
	if stats != nil {
		e.LLMCalls = stats.LLMCalls
		e.LLMElapsedMs = stats.LLMElapsedMs
		e.CommandCount = stats.CommandCount
		e.CommandElapsedMs = stats.CommandElapsedMs
	}
	if rep.Plan != nil {
		e.Commands = rep.Plan.Cmd
		e.Risk = rep.Plan.RiskLabel()
	}
	if rep.Outcome != nil {
		e.FailedIndex = rep.Outcome.FailedIndex
		e.Risk = rep.Outcome.Risk
	}
	if err != nil {
		e.Error = firstLine(err.Error())
	}
	if herr := a.d.History.Append(e); herr != nil {
		log.Printf("[AGENT] history append failed: %v", herr)
	}
	log.Printf("[AGENT] request %s done status=%s elapsed=%v llm=%dms commands=%d/%dms",
		rep.ID, status, rep.Elapsed.Round(time.Millisecond), e.LLMElapsedMs, e.CommandCount, e.CommandElapsedMs)
}

func (a *Agent) spin(ctx context.Context) func() {
	if a.d.Out == nil {
		return func() {}
	}
	return a.d.Out.Spin(ctx, "asking "+a.d.Service)
}

// transportError maps a provider failure to the user-facing message.
//
// Expectations:
//   - Missing credential names the OPENAI_API_KEY variable
//   - HTTP failures show the status code and the body verbatim
//   - Timeouts say so
func transportError(err error) *Error {
	var te *llm.TransportError
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		return &Error{Stage: StageTransport, Message: "missing API key: export OPENAI_API_KEY", Err: err}
	case errors.Is(err, llm.ErrTimeout):
		return &Error{Stage: StageTransport, Message: "LLM request timed out: " + err.Error(), Err: err}
	case errors.As(err, &te) && te.StatusCode != 0:
		return &Error{Stage: StageTransport, Message: fmt.Sprintf("LLM request failed (code=%d).\n--- stdout ---\n%s\n--- stderr ---\n", te.StatusCode, te.Body), Err: err}
	default:
		return &Error{Stage: StageTransport, Message: "LLM request failed: " + err.Error(), Err: err}
	}
}

// executionError reports the failing command, its position, its streams and
// its exit status.
func executionError(err error, n int) *Error {
	var ce *executor.CommandError
	if !errors.As(err, &ce) {
		return &Error{Stage: StageExecution, Message: err.Error(), Err: err}
	}
	head := fmt.Sprintf("Command %d/%d failed: %s\n", ce.Index+1, n, ce.Command)
	if ce.Result == nil {
		return &Error{Stage: StageExecution, Message: head + "could not start: " + ce.Err.Error(), Err: err}
	}
	return &Error{Stage: StageExecution, Message: head + ui.FormatFailure(ce.Result), Err: err}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
