package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/aobridge/internal/api"
	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/doctor"
	"github.com/mattjoyce/aobridge/internal/inspect"
	"github.com/mattjoyce/aobridge/internal/journal"
	"github.com/mattjoyce/aobridge/internal/lock"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/tui/watch"
)

// --- invocation ---

func runInvocationNoun(args []string) int {
	if len(args) < 1 {
		printInvocationNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printInvocationNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		return runInvocationList(actionArgs)
	case "inspect":
		return runInvocationInspect(actionArgs)
	case "prune":
		return runInvocationPrune(actionArgs)
	case "watch":
		return runInvocationWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown invocation action: %s\n", action)
		return 1
	}
}

func printInvocationNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage:
  aobridge invocation list [--command name] [--process id] [--status s] [--limit n] [--json]
  aobridge invocation inspect [--json] <invocation-id>
  aobridge invocation prune --older-than <duration>
  aobridge invocation watch [--command name] [--process id] [--status s] [--interval d]
`)
}

func runInvocationList(args []string) int {
	fs := flag.NewFlagSet("invocation list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	command := fs.String("command", "", "Filter by command")
	processID := fs.String("process", "", "Filter by process id")
	status := fs.String("status", "", "Filter by status (succeeded, failed, timed_out, cancelled)")
	limit := fs.Int("limit", 20, "Maximum rows")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		entries, err := a.journal.List(ctx, journal.Filter{
			Command:   protocol.Name(*command),
			ProcessID: *processID,
			Status:    journal.Status(*status),
			Limit:     *limit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		if *jsonOut {
			if entries == nil {
				entries = []*journal.Entry{}
			}
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No invocations recorded.")
			return 0
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.ID,
				string(e.Command),
				styles.status(e.Status),
				e.ProcessID,
				e.Duration.Round(time.Millisecond).String(),
				e.StartedAt.Local().Format(time.DateTime),
			})
		}
		fmt.Print(table([]string{"INVOCATION", "COMMAND", "STATUS", "PROCESS", "DURATION", "STARTED"}, rows))
		return 0
	})
}

func runInvocationWatch(args []string) int {
	fs := flag.NewFlagSet("invocation watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	command := fs.String("command", "", "Filter by command")
	processID := fs.String("process", "", "Filter by process id")
	status := fs.String("status", "", "Filter by status (succeeded, failed, timed_out, cancelled)")
	interval := fs.Duration("interval", 2*time.Second, "Journal poll interval")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "--interval must be positive")
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		m := watch.New(ctx, a.journal, journal.Filter{
			Command:   protocol.Name(*command),
			ProcessID: *processID,
			Status:    journal.Status(*status),
		}, *interval)
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
			return 1
		}
		return 0
	})
}

func runInvocationInspect(args []string) int {
	fs := flag.NewFlagSet("invocation inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: aobridge invocation inspect [--json] <invocation-id>")
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		build := inspect.BuildReport
		if *jsonOut {
			build = inspect.BuildJSONReport
		}
		out, err := build(ctx, a.journal, a.book, positional[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Print(out)
		if *jsonOut {
			fmt.Println()
		}
		return 0
	})
}

func runInvocationPrune(args []string) int {
	fs := flag.NewFlagSet("invocation prune", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	olderThan := fs.Duration("older-than", 0, "Delete invocations completed before now minus this duration (e.g. 720h)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "invocation prune requires --older-than > 0")
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		n, err := a.journal.Prune(ctx, *olderThan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Printf("pruned %d invocation(s)\n", n)
		return 0
	})
}

// --- system ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "doctor":
		return runDoctor(actionArgs)
	case "setup":
		return runSetup(actionArgs)
	case "serve":
		return runServe(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage:
  aobridge system doctor [--probe] [--json]
  aobridge system setup
  aobridge system serve [--listen addr]
`)
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	probe := fs.Bool("probe", false, "Also run the worker health command")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		r := &doctor.Result{Valid: false, Errors: []doctor.Issue{{Category: "config", Message: err.Error()}}}
		return printDoctorResult(r, *jsonOut)
	}
	log.Setup("ERROR")

	var prober doctor.Prober
	if *probe {
		prober = dispatch.New(cfg)
	}
	ctx, stop := signalContext()
	defer stop()
	return printDoctorResult(doctor.New(cfg, prober).Validate(ctx), *jsonOut)
}

func printDoctorResult(r *doctor.Result, jsonOut bool) int {
	if jsonOut {
		out, err := doctor.FormatJSON(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(r))
	}
	if !r.Valid {
		return 1
	}
	return 0
}

func runSetup(args []string) int {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	ctx, stop := signalContext()
	defer stop()

	path, err := doctor.Setup(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Printf("%s %s\n", styles.OK.Render("state ready"), path)
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Override api.listen")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer a.Close()

	logger := log.WithComponent("main")
	if !a.cfg.API.Enabled {
		logger.Error("api.enabled is false; nothing to serve")
		return 1
	}

	pidLock, err := lock.Acquire(lock.PathFor(a.cfg.State.Path))
	if errors.Is(err, lock.ErrHeld) {
		logger.Error("another aobridge serve is running against this state", "error", err)
		return 1
	}
	if err != nil {
		logger.Error("failed to acquire PID lock", "error", err)
		return 1
	}
	defer pidLock.Release()

	cfg := api.Config{
		Listen:  a.cfg.API.Listen,
		APIKey:  a.cfg.API.Auth.APIKey,
		Tokens:  a.cfg.API.Auth.Tokens,
		Version: currentVersionInfo().Version,
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	var metricsHandler http.Handler
	if a.cfg.API.Metrics {
		metricsHandler = a.metrics.Handler()
	}

	logger.Info("aobridge serving",
		"listen", cfg.Listen,
		"pid", strconv.Itoa(os.Getpid()),
		"state", a.cfg.State.Path,
		"worker", a.cfg.Worker.Entrypoint)

	server := api.New(cfg, a.client, a.book, a.journal, metricsHandler, log.WithComponent("api"))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server failed", "error", err)
		return 1
	}
	logger.Info("aobridge stopped")
	return 0
}
