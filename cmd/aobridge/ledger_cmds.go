package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/state"
)

// tagFlags collects repeated --tag Name=Value flags in order.
type tagFlags []protocol.Tag

func (t *tagFlags) String() string {
	parts := make([]string, 0, len(*t))
	for _, tag := range *t {
		parts = append(parts, tag.Name+"="+tag.Value)
	}
	return strings.Join(parts, ",")
}

func (t *tagFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("tag must be Name=Value, got %q", v)
	}
	*t = append(*t, protocol.Tag{Name: strings.TrimSpace(name), Value: value})
	return nil
}

// execute runs one command, prints --json output or hands the Result to human.
func execute(ctx context.Context, a *app, cmd protocol.Command, jsonOut bool, human func(*protocol.Result)) int {
	res, err := a.client.Execute(ctx, cmd)
	if errors.Is(err, dispatch.ErrConfiguration) {
		fmt.Fprintf(os.Stderr, "%v\nHint: set wallet_path in the config or create one with `aobridge wallet create --out wallet.json`\n", err)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if jsonOut {
		code := printJSON(res)
		if !res.Success {
			return 1
		}
		return code
	}
	if !res.Success {
		return reportFailure(res)
	}
	human(res)
	return 0
}

// resolveProcess falls back to the current process when explicit is empty.
func resolveProcess(ctx context.Context, a *app, explicit string) (string, bool) {
	pid, err := a.book.Resolve(ctx, explicit)
	if errors.Is(err, state.ErrNoCurrentProcess) {
		fmt.Fprintln(os.Stderr, "No process given and no current process; pass --process or run `aobridge process use <id>`")
		return "", false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return "", false
	}
	return pid, true
}

// --- wallet ---

func runWalletNoun(args []string) int {
	if len(args) < 1 {
		printWalletNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWalletNounHelp(os.Stdout)
		return 0
	}
	switch args[0] {
	case "create":
		return runWalletCreate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown wallet action: %s\n", args[0])
		return 1
	}
}

func printWalletNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: aobridge wallet create [--out wallet.json] [--force] [--json] [--config path]")
}

func runWalletCreate(args []string) int {
	fs := flag.NewFlagSet("wallet create", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	out := fs.String("out", "", "Write the JWK to this file (mode 0600)")
	force := fs.Bool("force", false, "Overwrite an existing --out file")
	jsonOut := fs.Bool("json", false, "Print the full Result, including the JWK")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *out == "" && !*jsonOut {
		fmt.Fprintln(os.Stderr, "wallet create needs --out <file> or --json")
		return 1
	}
	if *out != "" && !*force {
		if _, err := os.Stat(*out); err == nil {
			fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", *out)
			return 1
		}
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		res, err := a.client.CreateWallet(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		if !res.Success {
			if *jsonOut {
				printJSON(res)
				return 1
			}
			return reportFailure(res)
		}
		if res.Wallet == nil || len(res.Wallet.JWK) == 0 {
			fmt.Fprintln(os.Stderr, "worker returned no wallet material")
			return 1
		}
		if *out != "" {
			if err := os.WriteFile(*out, res.Wallet.JWK, 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "write wallet: %v\n", err)
				return 1
			}
		}
		if *jsonOut {
			return printJSON(res)
		}
		fmt.Printf("%s %s\n", styles.OK.Render("created wallet"), res.Wallet.Address)
		fmt.Printf("jwk written to %s\n", *out)
		return 0
	})
}

// --- process ---

func runProcessNoun(args []string) int {
	if len(args) < 1 {
		printProcessNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printProcessNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "spawn":
		return runProcessSpawn(actionArgs)
	case "list":
		return runProcessList(actionArgs)
	case "use":
		return runProcessUse(actionArgs)
	case "current":
		return runProcessCurrent(actionArgs)
	case "messages":
		return runProcessMessages(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown process action: %s\n", action)
		return 1
	}
}

func printProcessNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage:
  aobridge process spawn --module <id> [--scheduler <id>] [--data <s>] [--tag Name=Value]... [--json]
  aobridge process list [--json]
  aobridge process use <process-id>
  aobridge process current
  aobridge process messages [--process <id>] [--json]
`)
}

func runProcessSpawn(args []string) int {
	fs := flag.NewFlagSet("process spawn", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	module := fs.String("module", "", "Module transaction id")
	scheduler := fs.String("scheduler", "", "Scheduler id (default: ledger.scheduler)")
	data := fs.String("data", "", "Process data (default: 1984)")
	jsonOut := fs.Bool("json", false, "Output the Result as JSON")
	var tags tagFlags
	fs.Var(&tags, "tag", "Tag as Name=Value (repeatable, order kept)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		cmd := protocol.Command{
			Command:   protocol.CommandSpawn,
			Source:    *module,
			Scheduler: *scheduler,
			Data:      *data,
			Tags:      tags,
		}
		return execute(ctx, a, cmd, *jsonOut, func(res *protocol.Result) {
			fmt.Printf("%s %s\n", styles.OK.Render("spawned"), res.ProcessID)
			fmt.Println(styles.Dim.Render("now the current process"))
		})
	})
}

func runProcessList(args []string) int {
	fs := flag.NewFlagSet("process list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		procs, err := a.book.ListProcesses(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		current, _ := a.book.Current(ctx)

		if *jsonOut {
			type entry struct {
				*state.Process
				Current bool `json:"current"`
			}
			out := make([]entry, 0, len(procs))
			for _, p := range procs {
				out = append(out, entry{Process: p, Current: p.ID == current})
			}
			return printJSON(out)
		}

		if len(procs) == 0 {
			fmt.Println("No processes spawned yet.")
			return 0
		}
		rows := make([][]string, 0, len(procs))
		for _, p := range procs {
			marker := ""
			if p.ID == current {
				marker = styles.Current.Render("*")
			}
			rows = append(rows, []string{marker, p.ID, p.Name, p.Module, p.CreatedAt.Local().Format(time.DateTime)})
		}
		fmt.Print(table([]string{"", "PROCESS", "NAME", "MODULE", "SPAWNED"}, rows))
		return 0
	})
}

func runProcessUse(args []string) int {
	fs := flag.NewFlagSet("process use", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: aobridge process use <process-id>")
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		if err := a.book.Use(ctx, positional[0]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Printf("current process: %s\n", positional[0])
		return 0
	})
}

func runProcessCurrent(args []string) int {
	fs := flag.NewFlagSet("process current", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		pid, err := a.book.Current(ctx)
		if errors.Is(err, state.ErrNoCurrentProcess) {
			fmt.Fprintln(os.Stderr, "No current process.")
			return 1
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Println(pid)
		return 0
	})
}

func runProcessMessages(args []string) int {
	fs := flag.NewFlagSet("process messages", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	processID := fs.String("process", "", "Process id (default: current process)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		pid, ok := resolveProcess(ctx, a, *processID)
		if !ok {
			return 1
		}
		msgs, err := a.book.Messages(ctx, pid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		if *jsonOut {
			if msgs == nil {
				msgs = []*state.Message{}
			}
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Printf("No messages sent to %s.\n", pid)
			return 0
		}
		rows := make([][]string, 0, len(msgs))
		for _, m := range msgs {
			rows = append(rows, []string{m.ID, m.Action, m.SentAt.Local().Format(time.DateTime)})
		}
		fmt.Print(table([]string{"MESSAGE", "ACTION", "SENT"}, rows))
		return 0
	})
}

// --- message ---

func runMessageNoun(args []string) int {
	if len(args) < 1 {
		printMessageNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printMessageNounHelp(os.Stdout)
		return 0
	}
	switch args[0] {
	case "send":
		return runMessageSend(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown message action: %s\n", args[0])
		return 1
	}
}

func printMessageNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: aobridge message send [--process <id>] [--action <name>] [--tag Name=Value]... [--json] <data>")
}

func runMessageSend(args []string) int {
	fs := flag.NewFlagSet("message send", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	processID := fs.String("process", "", "Process id (default: current process)")
	action := fs.String("action", "", "Shorthand for --tag Action=<name>")
	jsonOut := fs.Bool("json", false, "Output the Result as JSON")
	var tags tagFlags
	fs.Var(&tags, "tag", "Tag as Name=Value (repeatable, order kept)")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) > 1 {
		fmt.Fprintln(os.Stderr, "message send takes a single data argument; quote it")
		return 1
	}
	if *action != "" {
		tags = append(tagFlags{{Name: "Action", Value: *action}}, tags...)
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		pid, ok := resolveProcess(ctx, a, *processID)
		if !ok {
			return 1
		}
		cmd := protocol.Command{Command: protocol.CommandMessage, ProcessID: pid, Tags: tags}
		if len(positional) == 1 {
			cmd.Message = positional[0]
		}
		return execute(ctx, a, cmd, *jsonOut, func(res *protocol.Result) {
			fmt.Printf("%s %s\n", styles.OK.Render("sent"), res.MessageID)
		})
	})
}

// --- result ---

func runResultNoun(args []string) int {
	if len(args) < 1 {
		printResultNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printResultNounHelp(os.Stdout)
		return 0
	}
	switch args[0] {
	case "list":
		return runResultList(args[1:])
	case "get":
		return runResultGet(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown result action: %s\n", args[0])
		return 1
	}
}

func printResultNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage:
  aobridge result list [--process <id>] [--sort ASC|DESC] [--limit n] [--from cursor] [--to cursor] [--json]
  aobridge result get [--process <id>] [--json] <message-id>
`)
}

func runResultList(args []string) int {
	fs := flag.NewFlagSet("result list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	processID := fs.String("process", "", "Process id (default: current process)")
	sort := fs.String("sort", "", "ASC or DESC")
	limit := fs.Int("limit", 0, "Page size")
	from := fs.String("from", "", "Start cursor")
	to := fs.String("to", "", "End cursor")
	jsonOut := fs.Bool("json", false, "Output the Result as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	opts := map[string]any{}
	if *sort != "" {
		opts["sort"] = *sort
	}
	if *limit != 0 {
		opts["limit"] = *limit
	}
	if *from != "" {
		opts["from"] = *from
	}
	if *to != "" {
		opts["to"] = *to
	}
	if len(opts) == 0 {
		opts = nil
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		pid, ok := resolveProcess(ctx, a, *processID)
		if !ok {
			return 1
		}
		cmd := protocol.Command{Command: protocol.CommandResults, ProcessID: pid, Options: opts}
		return execute(ctx, a, cmd, *jsonOut, func(res *protocol.Result) {
			if res.Results == nil || len(res.Results.Edges) == 0 {
				fmt.Println("No results.")
				return
			}
			for _, e := range res.Results.Edges {
				fmt.Println(styles.Header.Render("cursor " + e.Cursor))
				fmt.Println(indentJSON(e.Node))
			}
			fmt.Println(styles.Dim.Render("next page: --from " + res.Results.LastCursor()))
		})
	})
}

func runResultGet(args []string) int {
	fs := flag.NewFlagSet("result get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	processID := fs.String("process", "", "Process id (default: current process)")
	jsonOut := fs.Bool("json", false, "Output the Result as JSON")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: aobridge result get [--process <id>] <message-id>")
		return 1
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		pid, ok := resolveProcess(ctx, a, *processID)
		if !ok {
			return 1
		}
		cmd := protocol.Command{Command: protocol.CommandSingleResult, ProcessID: pid, MessageID: positional[0]}
		return execute(ctx, a, cmd, *jsonOut, func(res *protocol.Result) {
			fmt.Println(indentJSON(res.Output))
		})
	})
}

// --- dryrun ---

func printDryrunHelp() {
	fmt.Println("Usage: aobridge dryrun [--process <id>] [--action <name>] [--tag Name=Value]... [--json] [data]")
}

func runDryrun(args []string) int {
	fs := flag.NewFlagSet("dryrun", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	processID := fs.String("process", "", "Process id (default: current process)")
	action := fs.String("action", "", "Shorthand for --tag Action=<name>")
	jsonOut := fs.Bool("json", false, "Output the Result as JSON")
	var tags tagFlags
	fs.Var(&tags, "tag", "Tag as Name=Value (repeatable, order kept)")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) > 1 {
		fmt.Fprintln(os.Stderr, "dryrun takes a single data argument; quote it")
		return 1
	}
	if *action != "" {
		tags = append(tagFlags{{Name: "Action", Value: *action}}, tags...)
	}

	return withApp(*configPath, func(ctx context.Context, a *app) int {
		pid, ok := resolveProcess(ctx, a, *processID)
		if !ok {
			return 1
		}
		cmd := protocol.Command{Command: protocol.CommandDryrun, ProcessID: pid, Tags: tags}
		if len(positional) == 1 {
			cmd.Data = positional[0]
		}
		return execute(ctx, a, cmd, *jsonOut, func(res *protocol.Result) {
			fmt.Println(indentJSON(res.Output))
		})
	})
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
