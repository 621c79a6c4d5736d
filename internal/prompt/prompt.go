// Package prompt builds the system and user prompts sent to the provider.
package prompt

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"

	"github.com/haricheung/sconny/internal/policy"
)

const unknown = "Unknown"

// jsonOnlyPreamble is prepended to every system prompt.
const jsonOnlyPreamble = "You are a helpful assistant designed to output JSON only.\n" +
	"Output MUST be a single JSON object. No markdown.\n\n"

const systemPrompt = `You are Sconny, a safe shell-command generator for a local console assistant.

Your job:
- Convert the user's natural language request into ONE executable command (or a short list of commands) appropriate for the target environment.
- Prefer commands that are widely available on the target OS/distro.
- If multiple commands are necessary (e.g., mkdir then tar), keep it minimal.

Safety rules (critical):
- Do NOT produce destructive or dangerous commands.
  Examples of forbidden intent: wiping disks, deleting system files, formatting, fork bombs, privilege escalation, remote code execution.
- Avoid anything that can cause irreversible data loss.
- If the request is ambiguous or risky, choose the safest interpretation and require confirmation.

Output format (MUST follow):
- Output JSON ONLY. No markdown, no code fences, no extra text.
- "cmd" MUST be an array of FULL shell command strings (one command per string). Do NOT split into argv tokens.
- Example cmd: ["tar -czf archive.tar.gz a.txt b.txt c/"]
- JSON schema:
  {
    "cmd": ["<command1>", "<command2>", ...],
    "explain": "short explanation",
    "needs_confirmation": true|false,
    "risk": "low"|"medium"|"high",
    "assumptions": ["..."],
    "notes": ["..."]
  }
- Always set needs_confirmation=true if policy says confirmation is required.

Environment:
- OS: %s
- Distro: %s
- Version: %s
- Shell: %s
- CWD: %s

Execution policy:
- dry_run: %t
- require_confirmation: %t
- timeout_sec: %d

LLM config (for logging):
- llm_service: %s
- model: %s
`

const userPrompt = `User request:
%s

Important:
- Use the simplest safe command(s).
- If target is Linux and task is compressing files/dirs, prefer 'tar' if available.
- If the output filename is not specified, choose a sensible default like 'archive.tar.gz'.
`

// Env describes the machine the commands will run on.
type Env struct {
	OS      string
	Distro  string
	Version string
	Shell   string
	Cwd     string
}

// Params carries the settings echoed into the system prompt.
type Params struct {
	Policy  policy.Policy
	Service string
	Model   string
}

// Prompt is the system/user pair for one request.
type Prompt struct {
	System string
	User   string
}

// Build renders the prompts for request. Empty Env fields render as "Unknown".
//
// Expectations:
//   - System starts with the JSON-only preamble
//   - System lists environment, policy and service/model values
//   - User carries the trimmed request followed by the command hints
func Build(env Env, p Params, request string) Prompt {
	model := p.Model
	if model == "" {
		model = "unspecified"
	}
	system := jsonOnlyPreamble + fmt.Sprintf(systemPrompt,
		orUnknown(env.OS), orUnknown(env.Distro), orUnknown(env.Version), orUnknown(env.Shell), orUnknown(env.Cwd),
		p.Policy.DryRun, p.Policy.RequireConfirmation, p.Policy.TimeoutSec,
		p.Service, model)
	return Prompt{
		System: system,
		User:   fmt.Sprintf(userPrompt, strings.TrimSpace(request)),
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

// DetectEnv inspects the running system once.
func DetectEnv() Env {
	return detectEnv("/etc/os-release", os.Getenv)
}

// detectEnv fills Env from an os-release file and the environment.
//
// Expectations:
//   - Distro prefers PRETTY_NAME, then ID
//   - Version is VERSION_ID
//   - A missing os-release leaves Distro and Version empty
//   - Shell comes from $SHELL, or %ComSpec% on Windows
func detectEnv(osRelease string, getenv func(string) string) Env {
	env := Env{OS: osName(runtime.GOOS)}
	if runtime.GOOS == "linux" {
		if vals, err := godotenv.Read(osRelease); err == nil {
			env.Distro = vals["PRETTY_NAME"]
			if env.Distro == "" {
				env.Distro = vals["ID"]
			}
			env.Version = vals["VERSION_ID"]
		} else {
			log.Printf("[PROMPT] os-release unavailable: %v", err)
		}
	}
	env.Shell = getenv("SHELL")
	if env.Shell == "" && runtime.GOOS == "windows" {
		env.Shell = getenv("ComSpec")
	}
	if wd, err := os.Getwd(); err == nil {
		env.Cwd = wd
	}
	return env
}

func osName(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	default:
		return goos
	}
}
