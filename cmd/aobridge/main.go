// Command aobridge drives AO processes through the bridge worker.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/aobridge/internal/config"
	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/journal"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/metrics"
	"github.com/mattjoyce/aobridge/internal/state"
	"github.com/mattjoyce/aobridge/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "wallet":
		return runWalletNoun(args)
	case "process":
		return runProcessNoun(args)
	case "message":
		return runMessageNoun(args)
	case "result":
		return runResultNoun(args)
	case "dryrun":
		if hasHelpFlag(args) {
			printDryrunHelp()
			return 0
		}
		return runDryrun(args)
	case "invocation":
		return runInvocationNoun(args)
	case "system":
		return runSystemNoun(args)

	case "doctor":
		return runDoctor(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: aobridge version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("aobridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`aobridge - command bridge to AO processes

Usage:
  aobridge <noun> <action> [flags]

Resources (Nouns):
  wallet      Wallet material
  process     Spawned processes and the current process
  message     Signed messages to a process
  result      Process results from the compute unit
  invocation  Journal of worker invocations
  system      Diagnostics, setup and the HTTP API

Wallet Commands:
  wallet create        Generate a new wallet (--out writes the JWK file)

Process Commands:
  process spawn        Spawn a process from a module
  process list         List processes spawned from this machine
  process use <id>     Make <id> the current process
  process current      Print the current process
  process messages     List messages sent to a process

Message Commands:
  message send         Send a message to a process

Result Commands:
  result list          Read a page of process results
  result get <mid>     Read the result of one message

Other Commands:
  dryrun               Evaluate a message without committing it

Invocation Commands:
  invocation list         List recent invocations
  invocation inspect <id> Show one invocation with its process history
  invocation prune        Delete old journal rows
  invocation watch        Live view of the journal

System Commands:
  system doctor        Validate configuration, wallet and worker
  system setup         Create the state database
  system serve         Run the HTTP API in the foreground

General:
  version              Show version information
  help                 Show this help message

Every action accepts --config <path>. Process-scoped actions default to the
current process when --process is omitted.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

// parseInterspersed parses flags that may appear before or after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// loadConfig loads an explicit config, else a discovered one, else the defaults.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if errors.Is(err, config.ErrNoConfig) {
			return config.Defaults(), nil
		}
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// app bundles the per-invocation wiring: config, state database, journal,
// process book and a dispatch client that reports to all of them.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	book    *state.Book
	journal *journal.Journal
	metrics *metrics.Metrics
	client  *dispatch.Client
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log.Setup(cfg.Service.LogLevel)

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		book:    state.NewBook(db),
		journal: journal.New(db),
		metrics: metrics.New(),
	}
	a.client = dispatch.New(cfg, dispatch.WithObservers(a.journal, a.book, a.metrics))
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// withApp opens the app, runs fn and closes it. Errors are printed.
func withApp(configPath string, fn func(ctx context.Context, a *app) int) int {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer a.Close()
	return fn(ctx, a)
}
