package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/aobridge/internal/config"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/protocol"
)

// ErrConfiguration is returned, before any worker is spawned, when the client
// lacks configuration the command needs (a credential path for signed commands).
var ErrConfiguration = errors.New("configuration error")

// Record describes one finished dispatch. Observers receive it after the
// Result is known.
type Record struct {
	ID        string
	Command   protocol.Command
	Digest    string
	Result    *protocol.Result
	Stderr    string
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration
}

// ProcessID returns the process the record concerns, from the command or a spawn result.
func (r Record) ProcessID() string {
	if r.Command.ProcessID != "" {
		return r.Command.ProcessID
	}
	if r.Result != nil {
		return r.Result.ProcessID
	}
	return ""
}

// Observer is notified of every dispatched command. Implementations must not block for long.
type Observer interface {
	Observe(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec Record)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, rec Record) { f(ctx, rec) }

// Client translates typed calls into Commands, runs one worker per call and
// decodes its Result. It holds no mutable state and is safe for concurrent use.
type Client struct {
	cfg       *config.Config
	runner    Runner
	observers []Observer
	logger    *slog.Logger
	newID     func() string
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the default ProcessRunner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithObservers registers observers called after every dispatch.
func WithObservers(obs ...Observer) Option {
	return func(c *Client) { c.observers = append(c.observers, obs...) }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. It performs no I/O.
func New(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.Defaults()
	}
	c := &Client{
		cfg:    cfg,
		runner: &ProcessRunner{},
		logger: log.WithComponent("dispatch"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SpawnRequest holds the arguments of SpawnProcess.
type SpawnRequest struct {
	Source    string
	Tags      []protocol.Tag
	Scheduler string
	Data      string
}

// CreateWallet generates new wallet material. The caller persists it.
func (c *Client) CreateWallet(ctx context.Context) (*protocol.Result, error) {
	return c.Execute(ctx, protocol.Command{Command: protocol.CommandCreateWallet})
}

// SpawnProcess spawns a ledger process from a module source. Requires a wallet path.
func (c *Client) SpawnProcess(ctx context.Context, req SpawnRequest) (*protocol.Result, error) {
	return c.Execute(ctx, protocol.Command{
		Command:   protocol.CommandSpawn,
		Source:    req.Source,
		Tags:      req.Tags,
		Scheduler: req.Scheduler,
		Data:      req.Data,
	})
}

// SendMessage sends a signed message to a process. Requires a wallet path.
func (c *Client) SendMessage(ctx context.Context, processID, message string, tags []protocol.Tag) (*protocol.Result, error) {
	return c.Execute(ctx, protocol.Command{
		Command:   protocol.CommandMessage,
		ProcessID: processID,
		Message:   message,
		Tags:      tags,
	})
}

// GetResults reads one page of process results.
func (c *Client) GetResults(ctx context.Context, processID string, options map[string]any) (*protocol.Result, error) {
	return c.Execute(ctx, protocol.Command{
		Command:   protocol.CommandResults,
		ProcessID: processID,
		Options:   options,
	})
}

// GetSingleResult reads the result of one message.
func (c *Client) GetSingleResult(ctx context.Context, processID, messageID string) (*protocol.Result, error) {
	return c.Execute(ctx, protocol.Command{
		Command:   protocol.CommandSingleResult,
		ProcessID: processID,
		MessageID: messageID,
	})
}

// Dryrun evaluates a message against a process without committing it.
func (c *Client) Dryrun(ctx context.Context, processID, data string, tags []protocol.Tag) (*protocol.Result, error) {
	return c.Execute(ctx, protocol.Command{
		Command:   protocol.CommandDryrun,
		ProcessID: processID,
		Data:      data,
		Tags:      tags,
	})
}

// Health asks the worker to report its version and ledger endpoints.
func (c *Client) Health(ctx context.Context) (*protocol.Result, error) {
	return c.Execute(ctx, protocol.Command{Command: protocol.CommandHealth})
}

// Execute dispatches an arbitrary command. The error return is reserved for
// ErrConfiguration; every other failure is a Result with Success=false.
func (c *Client) Execute(ctx context.Context, cmd protocol.Command) (*protocol.Result, error) {
	if spec, ok := protocol.Lookup(cmd.Command); ok && spec.Signed {
		if cmd.JWKPath == "" {
			cmd.JWKPath = c.cfg.WalletPath
		}
		if cmd.JWKPath == "" {
			return nil, fmt.Errorf("%w: wallet_path required for %s", ErrConfiguration, cmd.Command)
		}
	}

	rec := Record{
		ID:        c.newID(),
		Command:   cmd,
		StartedAt: time.Now().UTC(),
		ExitCode:  -1,
	}
	logger := c.logger.With("invocation_id", rec.ID, "command", string(cmd.Command))

	arg, err := protocol.EncodeCommand(&cmd)
	if err != nil {
		logger.Warn("command rejected before dispatch", "error", err)
		rec.Result = protocol.Failure(protocol.KindInvalid, err.Error())
		c.finish(ctx, &rec)
		return rec.Result, nil
	}
	rec.Digest = config.Fingerprint([]byte(arg))

	inv := c.invocation(rec.ID, string(cmd.Command), arg)
	exe, runErr := c.runner.Run(ctx, inv)
	if exe != nil {
		rec.Stderr = exe.Stderr
		rec.ExitCode = exe.ExitCode
	}
	rec.Result = c.interpret(exe, runErr)

	if rec.Stderr != "" {
		logger.Debug("worker stderr", "stderr", rec.Stderr)
	}
	if rec.Result.Success {
		logger.Info("command succeeded")
	} else {
		logger.Warn("command failed", "kind", rec.Result.Kind, "error", rec.Result.Error)
	}

	c.finish(ctx, &rec)
	return rec.Result, nil
}

// interpret maps the runner outcome onto a Result.
func (c *Client) interpret(exe *Execution, runErr error) *protocol.Result {
	var stdout []byte
	if exe != nil {
		stdout = exe.Stdout
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrTimeout):
		res := protocol.Failure(protocol.KindTimeout, runErr.Error())
		res.Raw = string(stdout)
		return res
	case errors.Is(runErr, context.DeadlineExceeded):
		res := protocol.Failure(protocol.KindTimeout, fmt.Sprintf("worker timed out: caller deadline exceeded: %v", runErr))
		res.Raw = string(stdout)
		return res
	case errors.Is(runErr, context.Canceled):
		res := protocol.Failure(protocol.KindCancelled, fmt.Sprintf("worker cancelled: %v", runErr))
		res.Raw = string(stdout)
		return res
	case errors.Is(runErr, ErrLaunch):
		return protocol.Failure(protocol.KindSpawn, runErr.Error())
	default:
		return protocol.Failure(protocol.KindSpawn, fmt.Sprintf("worker execution failed: %v", runErr))
	}

	res, err := protocol.DecodeResult(stdout)
	if err != nil {
		failed := protocol.Failure(protocol.KindDecode, fmt.Sprintf("failed to parse output: %v", err))
		failed.Raw = string(stdout)
		return failed
	}
	return res
}

// invocation builds `<runtime> <entrypoint> <json>` plus the worker environment.
func (c *Client) invocation(id, command, arg string) Invocation {
	w := c.cfg.Worker
	inv := Invocation{
		ID:         id,
		Entrypoint: w.Entrypoint,
		Timeout:    w.Timeouts.For(command),
		Env:        c.environment(id),
	}
	if w.Runtime != "" {
		inv.Path = w.Runtime
		inv.Args = []string{w.Entrypoint, arg}
	} else {
		inv.Path = w.Entrypoint
		inv.Args = []string{arg}
	}
	return inv
}

func (c *Client) environment(id string) []string {
	env := os.Environ()
	env = append(env,
		protocol.EnvMUURL+"="+c.cfg.Ledger.MUURL,
		protocol.EnvCUURL+"="+c.cfg.Ledger.CUURL,
		protocol.EnvScheduler+"="+c.cfg.Ledger.Scheduler,
		protocol.EnvHTTPTimeout+"="+c.cfg.Ledger.HTTPTimeout.String(),
		protocol.EnvInvocationID+"="+id,
		protocol.EnvLogLevel+"="+strings.ToUpper(c.cfg.Service.LogLevel),
	)

	keys := make([]string, 0, len(c.cfg.Worker.Env))
	for k := range c.cfg.Worker.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.cfg.Worker.Env[k])
	}
	return env
}

func (c *Client) finish(ctx context.Context, rec *Record) {
	rec.Duration = time.Since(rec.StartedAt)
	for _, o := range c.observers {
		o.Observe(ctx, *rec)
	}
}
