// Package guard flags plan commands that destroy data or match a denylist.
// A flagged command never blocks execution on its own: the executor raises
// the plan to high risk and insists on confirmation.
package guard

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Patterns is the on-disk denylist format.
type Patterns struct {
	Commands []string `yaml:"commands"`
}

// DefaultPatterns are substrings that always flag a command.
var DefaultPatterns = Patterns{
	Commands: []string{
		"rm -rf /",
		"rm -rf ~",
		"dd if=/dev/zero",
		":(){ :|:& };:",
		"> /dev/sda",
		"chmod -R 777 /",
		"curl|sh",
		"curl | sh",
		"wget|sh",
		"wget | sh",
		"sudo su",
		"sudo -i",
		"git push --force",
		"git push -f",
	},
}

// Guard checks commands against destructive-verb rules and a denylist.
type Guard struct {
	commands []string // lower-cased substrings
}

// New creates a Guard from p. Patterns are matched case-insensitively.
func New(p Patterns) *Guard {
	g := &Guard{}
	for _, c := range p.Commands {
		if c = strings.TrimSpace(c); c != "" {
			g.commands = append(g.commands, strings.ToLower(c))
		}
	}
	return g
}

// Default creates a Guard with DefaultPatterns.
func Default() *Guard {
	return New(DefaultPatterns)
}

// Load reads a denylist from a YAML file and adds it to the defaults.
// An empty path means ~/.config/sconny/denylist.yaml; a missing file yields
// the defaults alone.
func Load(path string) (*Guard, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(dir, "sconny", "denylist.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	merged := Patterns{Commands: append(append([]string{}, DefaultPatterns.Commands...), p.Commands...)}
	return New(merged), nil
}

// Check reports whether cmd should be treated as high risk, and why.
//
// Expectations:
//   - Flags any denylist substring, case-insensitive
//   - Flags curl/wget output piped into a shell
//   - Flags rm, rmdir, shred, truncate, mkfs*, dd with of=, find -delete and
//     find -exec rm, including behind sudo or env assignments and in any
//     segment of a compound command
//   - Leaves read-only commands unflagged
func (g *Guard) Check(cmd string) (bool, string) {
	if ok, reason := isIrreversibleShell(cmd); ok {
		return true, reason
	}
	lower := strings.ToLower(cmd)
	if isPipeToShell(lower) {
		return true, "pipe-to-shell execution"
	}
	for _, p := range g.commands {
		if strings.Contains(lower, p) {
			return true, "denylisted pattern: " + p
		}
	}
	return false, ""
}

// CheckAll returns the index and reason of the first flagged command, or -1.
func (g *Guard) CheckAll(cmds []string) (int, string) {
	for i, c := range cmds {
		if ok, reason := g.Check(c); ok {
			return i, reason
		}
	}
	return -1, ""
}

// isPipeToShell detects "curl ... | sh" and "wget ... | bash" forms.
func isPipeToShell(cmd string) bool {
	if !strings.Contains(cmd, "|") {
		return false
	}
	if !strings.Contains(cmd, "curl") && !strings.Contains(cmd, "wget") {
		return false
	}
	parts := strings.Split(cmd, "|")
	for _, part := range parts[1:] {
		fields := leadingCommand(strings.Fields(part))
		if len(fields) == 0 {
			continue
		}
		switch filepath.Base(fields[0]) {
		case "sh", "bash", "zsh", "fish", "dash":
			return true
		}
	}
	return false
}

func isIrreversibleShell(cmd string) (bool, string) {
	for _, seg := range segments(cmd) {
		fields := leadingCommand(strings.Fields(seg))
		if len(fields) == 0 {
			continue
		}
		name := filepath.Base(fields[0])
		args := fields[1:]
		switch {
		case name == "rm" || name == "rmdir" || name == "shred" || name == "truncate":
			return true, name + " permanently removes or overwrites data"
		case strings.HasPrefix(name, "mkfs"):
			return true, name + " formats a filesystem"
		case name == "dd" && hasPrefixArg(args, "of="):
			return true, "dd writes directly to its output target"
		case name == "find" && hasArg(args, "-delete"):
			return true, "find -delete removes matched files"
		case name == "find" && findExecRemoves(args):
			return true, "find -exec rm removes matched files"
		}
	}
	return false, ""
}

// segments splits a compound command on ;, &&, || and | and newlines.
func segments(cmd string) []string {
	return strings.FieldsFunc(strings.NewReplacer("&&", ";", "||", ";", "|", ";", "\n", ";").Replace(cmd),
		func(r rune) bool { return r == ';' })
}

// leadingCommand drops sudo, env and VAR=value prefixes.
func leadingCommand(fields []string) []string {
	for len(fields) > 0 {
		f := fields[0]
		switch {
		case f == "sudo" || f == "env" || f == "nohup" || f == "exec":
			fields = fields[1:]
		case strings.HasPrefix(f, "-") && len(fields) > 1:
			// sudo/env flags such as "sudo -E"
			fields = fields[1:]
		case strings.Contains(f, "=") && !strings.HasPrefix(f, "="):
			fields = fields[1:]
		default:
			return fields
		}
	}
	return fields
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func hasPrefixArg(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

func findExecRemoves(args []string) bool {
	for i, a := range args {
		if (a == "-exec" || a == "-execdir" || a == "-ok") && i+1 < len(args) {
			next := filepath.Base(args[i+1])
			if next == "rm" || next == "shred" {
				return true
			}
		}
	}
	return false
}
