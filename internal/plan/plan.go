// Package plan defines the CommandPlan the model answers with and its decoder.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Risk tiers by convention. Risk is not enum-validated: any other value is
// carried as-is and gated like "low".
const (
	RiskLow     = "low"
	RiskMedium  = "medium"
	RiskHigh    = "high"
	RiskUnknown = "unknown"
)

// ErrEmptyPlan is returned by Validate when the plan has no commands. It is a
// content error: the answer decoded fine but there is nothing to run.
var ErrEmptyPlan = errors.New("plan: empty cmd list")

// CommandPlan is the model's answer: an ordered list of full shell command
// strings plus display and gating metadata. It is not mutated after Decode.
type CommandPlan struct {
	Cmd               []string `json:"cmd"`
	Explain           *string  `json:"explain,omitempty"`
	NeedsConfirmation *bool    `json:"needs_confirmation,omitempty"`
	Risk              *string  `json:"risk,omitempty"`
	Assumptions       []string `json:"assumptions,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// SchemaError reports an answer that is not a valid CommandPlan. Text keeps the
// offending answer for debugging.
type SchemaError struct {
	Text string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("failed to parse plan JSON: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Decode parses answer text into a CommandPlan.
//
// Expectations:
//   - Unknown extra keys are ignored
//   - A missing or null "cmd" key is a SchemaError
//   - Wrong field types (e.g. cmd as a string) are a SchemaError
//   - "cmd": [] decodes successfully; emptiness is reported by Validate
//   - Trailing data after the object is a SchemaError
func Decode(text string) (*CommandPlan, error) {
	var raw struct {
		CommandPlan
		Cmd *[]string `json:"cmd"`
	}
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&raw); err != nil {
		return nil, &SchemaError{Text: text, Err: err}
	}
	if dec.More() {
		return nil, &SchemaError{Text: text, Err: errors.New("unexpected data after plan object")}
	}
	if raw.Cmd == nil {
		return nil, &SchemaError{Text: text, Err: errors.New(`missing required key "cmd"`)}
	}
	p := raw.CommandPlan
	p.Cmd = *raw.Cmd
	if p.Cmd == nil {
		p.Cmd = []string{}
	}
	return &p, nil
}

// Validate reports whether the plan is actionable.
func (p *CommandPlan) Validate() error {
	if len(p.Cmd) == 0 {
		return ErrEmptyPlan
	}
	return nil
}

// ExplainText returns the explanation or "".
func (p *CommandPlan) ExplainText() string {
	if p.Explain == nil {
		return ""
	}
	return *p.Explain
}

// PlanNeedsConfirmation returns needs_confirmation, false when absent.
func (p *CommandPlan) PlanNeedsConfirmation() bool {
	return p.NeedsConfirmation != nil && *p.NeedsConfirmation
}

// RiskLabel returns the risk for display: the model's value, or "unknown" when
// absent.
func (p *CommandPlan) RiskLabel() string {
	if p.Risk == nil {
		return RiskUnknown
	}
	return *p.Risk
}

// GateRisk returns the risk used for confirmation gating: the model's value
// trimmed and lower-cased, or "low" when absent.
//
// Expectations:
//   - Absent risk gates as "low"
//   - " HIGH " gates as "high"
//   - Unrecognised values are returned lower-cased and gate like "low"
func (p *CommandPlan) GateRisk() string {
	if p.Risk == nil {
		return RiskLow
	}
	return strings.ToLower(strings.TrimSpace(*p.Risk))
}
