// sconny turns a natural-language request into shell commands via an LLM,
// shows the plan, and runs it after confirmation.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/haricheung/sconny/internal/agent"
	"github.com/haricheung/sconny/internal/config"
	"github.com/haricheung/sconny/internal/executor"
	"github.com/haricheung/sconny/internal/guard"
	"github.com/haricheung/sconny/internal/history"
	"github.com/haricheung/sconny/internal/llm"
	"github.com/haricheung/sconny/internal/prompt"
	"github.com/haricheung/sconny/internal/shell"
	"github.com/haricheung/sconny/internal/tasklog"
	"github.com/haricheung/sconny/internal/ui"
)

// version is set by ldflags at build time.
var version = "dev"

// flags holds raw command-line values; only flags the user set become
// config overrides.
type flags struct {
	configPath string
	service    string
	model      string
	dryRun     bool
	confirm    bool
	timeout    uint
	noGuard    bool
	denylist   string
	cacheDir   string
	answer     string
	verbose    bool
	repl       bool
}

func main() {
	var f flags
	rootCmd := &cobra.Command{
		Use:   "sconny [request...]",
		Short: "Ask for shell commands in plain language, review them, run them",
		Long: "sconny sends a request to an LLM, prints the proposed command plan, and runs it after confirmation. " +
			"With no request it starts an interactive prompt.\n\n" +
			"Each command is stopped after --timeout seconds. Ctrl-C while a command runs stops it " +
			"(and the rest of the plan) and returns to the prompt.",
		Version: version,
		Args:    cobra.ArbitraryArgs,
		// Errors are printed by run; cobra's own "Error:" line would duplicate them.
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}
	fl := rootCmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	fl.StringVar(&f.service, "service", "", "LLM service: openai or ollama (env: SCONNY_SERVICE)")
	fl.StringVar(&f.model, "model", "", "model name (env: SCONNY_MODEL)")
	fl.BoolVar(&f.dryRun, "dry-run", false, "print the plan without executing (env: SCONNY_DRY_RUN)")
	fl.BoolVar(&f.confirm, "confirm", true, "always ask before executing (env: SCONNY_REQUIRE_CONFIRMATION)")
	fl.UintVar(&f.timeout, "timeout", 0, "per-command timeout in seconds (env: SCONNY_TIMEOUT_SEC)")
	fl.BoolVar(&f.noGuard, "no-guard", false, "disable the destructive-command guard")
	fl.StringVar(&f.denylist, "denylist", "", "guard denylist YAML file (env: SCONNY_DENYLIST)")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "directory for logs and history (env: SCONNY_CACHE_DIR)")
	fl.StringVar(&f.answer, "answer", "", "execute this plan JSON directly instead of asking the model")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "write diagnostic logs to stderr")
	fl.BoolVarP(&f.repl, "repl", "i", false, "start the interactive prompt even when a request is given")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// overrides converts the flags the user actually set into config overrides.
func overrides(cmd *cobra.Command, f flags) config.Overrides {
	var o config.Overrides
	changed := cmd.Flags().Changed
	if changed("service") {
		o.Service = &f.service
	}
	if changed("model") {
		o.Model = &f.model
	}
	if changed("dry-run") {
		o.DryRun = &f.dryRun
	}
	if changed("confirm") {
		o.Confirm = &f.confirm
	}
	if changed("timeout") {
		o.TimeoutSec = &f.timeout
	}
	if changed("no-guard") {
		on := !f.noGuard
		o.Guard = &on
	}
	if changed("denylist") {
		o.DenylistYML = &f.denylist
	}
	if changed("cache-dir") {
		o.CacheDir = &f.cacheDir
	}
	return o
}

// app is everything one sconny process wires together.
type app struct {
	cfg    *config.Config
	out    *ui.Printer
	agent  *agent.Agent
	hist   *history.Store
	rl     *readline.Instance // nil in one-shot mode
	stdin  *bufio.Reader
	logOut io.Closer
}

func run(cmd *cobra.Command, f flags, args []string) error {
	// Keep config-time diagnostics off the terminal until we know where logs go.
	if f.verbose {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	color := readline.DefaultIsTerminal() && os.Getenv("NO_COLOR") == ""
	out := ui.New(os.Stdout, os.Stderr, color)

	cfg, err := config.Load(config.Options{Path: f.configPath, Overrides: overrides(cmd, f)})
	if err != nil {
		out.Error(err.Error())
		return err
	}

	a := &app{cfg: cfg, out: out, stdin: bufio.NewReader(os.Stdin)}
	defer a.close()
	a.redirectLog(f.verbose)
	log.Printf("[MAIN] sconny %s service=%s model=%s policy=%+v guard=%t", version, cfg.Service, cfg.Model, cfg.Policy, cfg.Guard)

	interactive := f.repl || (len(args) == 0 && f.answer == "")
	if interactive {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "sconny> ",
			HistoryFile:     filepath.Join(cfg.CacheDir, "readline_history"),
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			out.Error(err.Error())
			return err
		}
		a.rl = rl
	}

	if err := a.wire(); err != nil {
		out.Error(err.Error())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if interactive {
		a.repl(ctx, strings.Join(args, " "))
		return nil
	}
	return a.oneShot(ctx, f.answer, args)
}

// redirectLog sends the standard logger (and slog, which writes through it)
// to the debug log unless verbose.
func (a *app) redirectLog(verbose bool) {
	if verbose {
		return
	}
	if err := os.MkdirAll(a.cfg.CacheDir, 0o755); err != nil {
		return
	}
	lf, err := os.OpenFile(a.cfg.DebugLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	log.SetOutput(lf)
	a.logOut = lf
}

// wire builds the guard, runner, executor, history and agent from cfg.
func (a *app) wire() error {
	cfg := a.cfg

	var g *guard.Guard
	if cfg.Guard {
		var err error
		if g, err = guard.Load(cfg.Denylist); err != nil {
			return fmt.Errorf("load denylist: %w", err)
		}
	}

	runner := shell.New()
	log.Printf("[MAIN] timeout(1) wrapper in use: %t", runner.UsesTimeoutUtility())
	exec := executor.New(cfg.Policy,
		executor.WithRunner(runner),
		executor.WithConfirmer(executor.ReadConfirmer(a.readLine)),
		executor.WithGuard(g),
		executor.WithPrinter(a.out),
	)

	hist, err := openHistory(cfg.HistoryPath(), history.DefaultKeep)
	if err != nil {
		a.out.Warn("history disabled: " + err.Error())
	}
	a.hist = hist

	logs := tasklog.NewRegistry(cfg.RequestLogDir())
	log.Printf("[MAIN] request logs in %s", logs.Dir())

	client := llm.New(cfg.LLM())
	if err := client.Validate(); err != nil {
		log.Printf("[MAIN] %v", err)
	}
	a.agent = agent.New(agent.Deps{
		Gen:     client,
		Kind:    cfg.Kind(),
		Service: cfg.Service,
		Model:   cfg.Model,
		Exec:    exec,
		Env:     prompt.DetectEnv(),
		Logs:    logs,
		History: hist,
		Out:     a.out,
	})
	return nil
}

// openHistory opens the history store and trims it to the newest keep
// entries. On error the returned store is nil, which records nothing.
func openHistory(path string, keep int) (*history.Store, error) {
	hist, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	if n, err := hist.Prune(keep); err != nil {
		log.Printf("[MAIN] history prune: %v", err)
	} else if n > 0 {
		log.Printf("[MAIN] history pruned %d old entries", n)
	}
	log.Printf("[MAIN] history %s entries=%d", path, hist.Count())
	return hist, nil
}

func (a *app) close() {
	if a.rl != nil {
		a.rl.Close()
	}
	if err := a.hist.Close(); err != nil {
		log.Printf("[MAIN] history close: %v", err)
	}
	if a.logOut != nil {
		a.logOut.Close()
	}
}

// readLine reads one confirmation answer: through readline in the REPL,
// from plain stdin otherwise. Ctrl-C and EOF come back as errors, which
// decline.
func (a *app) readLine(p string) (string, error) {
	lead := p[:len(p)-len(strings.TrimLeft(p, "\n"))]
	p = p[len(lead):]
	fmt.Fprint(a.out.Out, lead)

	if a.rl != nil {
		a.rl.SetPrompt(p)
		defer a.rl.SetPrompt("sconny> ")
		return a.rl.Readline()
	}

	fmt.Fprint(a.out.Out, p)
	line, err := a.stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// oneShot handles a single request from the command line. Failures exit 1;
// success, cancellation and dry run exit 0.
func (a *app) oneShot(ctx context.Context, answer string, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var err error
	if answer != "" {
		_, err = a.agent.HandleAnswer(ctx, "", answer)
	} else {
		_, err = a.agent.Handle(ctx, strings.Join(args, " "))
	}
	if err != nil {
		a.out.Error(err.Error())
	}
	return err
}

const replHelp = `Type a request in plain language, e.g. "show disk usage".
Ctrl-C while a command runs stops it and returns here.
Commands:
  :history        show the last requests
  :history <id>   show one request in detail
  :help           show this help
  :q, :quit, exit   leave (Ctrl-D works too)`

// repl reads requests until EOF or a quit command. No request error ends the
// loop. first, when non-empty, is handled before the first prompt.
func (a *app) repl(ctx context.Context, first string) {
	fmt.Fprintf(a.out.Out, "sconny %s (%s/%s). Type :help for help.\n", version, a.cfg.Service, a.cfg.Model)
	if strings.TrimSpace(first) != "" {
		a.handle(ctx, first)
	}
	for {
		line, err := a.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			// io.EOF (Ctrl-D) or a closed terminal.
			return
		}
		input := strings.TrimSpace(line)
		handled, quit := a.command(input)
		if quit {
			return
		}
		if handled {
			continue
		}
		a.handle(ctx, input)
		if ctx.Err() != nil {
			return
		}
	}
}

// command runs a REPL built-in. handled is false when input is a request.
func (a *app) command(input string) (handled, quit bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return true, false
	}
	switch fields[0] {
	case ":q", ":quit", "exit":
		if len(fields) > 1 {
			return false, false
		}
		return true, true
	case ":help":
		fmt.Fprintln(a.out.Out, replHelp)
	case ":history":
		if len(fields) > 1 {
			e, err := a.hist.Get(fields[1])
			if err != nil {
				a.out.Error(fmt.Sprintf("no history entry %s", fields[1]))
				return true, false
			}
			a.out.HistoryEntry(e)
			return true, false
		}
		entries, err := a.hist.Recent(history.DefaultRecent)
		if err != nil {
			a.out.Error(err.Error())
		}
		a.out.History(entries)
	default:
		return false, false
	}
	return true, false
}

// handle runs one REPL request. Ctrl-C while it runs stops the current
// command and returns to the prompt.
func (a *app) handle(ctx context.Context, input string) {
	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if _, err := a.agent.Handle(reqCtx, input); err != nil {
		a.out.Error(err.Error())
	}
}
