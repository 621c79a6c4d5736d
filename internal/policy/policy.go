// Package policy holds the local execution policy and the confirmation rules
// the executor applies to a plan.
package policy

import "strings"

// StrongToken is the exact answer required to run a high-risk plan.
const StrongToken = "YES"

// DefaultTimeoutSec is the per-command timeout used when none is configured.
const DefaultTimeoutSec = 15

// Policy is the caller-owned execution policy. The executor reads it and never
// mutates it.
type Policy struct {
	DryRun              bool `yaml:"dry_run"`
	RequireConfirmation bool `yaml:"require_confirmation"`
	TimeoutSec          uint `yaml:"timeout_sec"`
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{RequireConfirmation: true, TimeoutSec: DefaultTimeoutSec}
}

// NeedsConfirmation reports whether the user must confirm before execution:
// the policy demands it or the plan asks for it.
func NeedsConfirmation(p Policy, planNeeds bool) bool {
	return p.RequireConfirmation || planNeeds
}

// IsHigh reports whether risk is the "high" tier, case-insensitive.
func IsHigh(risk string) bool {
	return strings.EqualFold(strings.TrimSpace(risk), "high")
}

// Accepts reports whether answer confirms execution at the given risk.
//
// Expectations:
//   - High risk accepts only the exact token "YES" (surrounding space ignored)
//   - "yes", "y", "Yes" are declined at high risk
//   - Any other risk (absent, unknown, low, medium) accepts "y" or "yes", case-insensitive
//   - Empty or ambiguous answers are declined
func Accepts(risk, answer string) bool {
	answer = strings.TrimSpace(answer)
	if IsHigh(risk) {
		return answer == StrongToken
	}
	v := strings.ToLower(answer)
	return v == "y" || v == "yes"
}

// PromptFor returns the confirmation prompt shown for risk.
func PromptFor(risk string) string {
	if IsHigh(risk) {
		return "Risk is HIGH. Type YES to execute: "
	}
	return "Execute these commands? [y/N]: "
}
