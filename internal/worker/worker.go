// Package worker is the executing side of the bridge. It reads one Command
// from its argument, performs one ledger operation and prints one Result.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/mattjoyce/aobridge/internal/config"
	"github.com/mattjoyce/aobridge/internal/ledger"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/protocol"
)

// Name is reported by the health command.
const Name = "aobridge-worker"

// Version is set at build time via -ldflags.
var Version = "dev"

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Option configures Run.
type Option func(*worker)

// WithEndpoints records the unit endpoints reported by the health command.
func WithEndpoints(cfg ledger.Config) Option {
	return func(w *worker) { w.endpoints = cfg }
}

type worker struct {
	client    ledger.Client
	endpoints ledger.Config
	logger    *slog.Logger
}

// Run handles args[0] as a Command, writes exactly one Result to stdout and
// returns the process exit code.
func Run(ctx context.Context, args []string, stdout io.Writer, client ledger.Client, opts ...Option) int {
	w := &worker{client: client, logger: log.WithComponent("worker")}
	if id := os.Getenv(protocol.EnvInvocationID); id != "" {
		w.logger = w.logger.With("invocation_id", id)
	}
	for _, opt := range opts {
		opt(w)
	}

	res := w.handle(ctx, args)
	if err := protocol.EncodeResult(stdout, res); err != nil {
		w.logger.Error("failed to write result", "error", err)
		return ExitFailure
	}
	if !res.Success {
		return ExitFailure
	}
	return ExitOK
}

func (w *worker) handle(ctx context.Context, args []string) *protocol.Result {
	var input string
	if len(args) > 0 {
		input = args[0]
	}
	if len(args) > 1 {
		w.logger.Warn("ignoring extra arguments", "count", len(args)-1)
	}

	cmd, err := protocol.DecodeCommand(input)
	if err != nil {
		return protocol.Failure(protocol.KindInvalid, err.Error())
	}
	if err := cmd.Validate(); err != nil {
		return protocol.Failure(protocol.KindInvalid, err.Error())
	}

	logger := w.logger.With("command", string(cmd.Command))
	start := time.Now()
	res := w.invoke(ctx, cmd, logger)
	if res.Success {
		logger.Info("command completed", "duration", time.Since(start))
	} else {
		logger.Warn("command failed", "error", res.Error, "duration", time.Since(start))
	}
	return res
}

// invoke runs the ledger call, converting a panic into an operation failure.
func (w *worker) invoke(ctx context.Context, cmd *protocol.Command, logger *slog.Logger) (res *protocol.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("ledger call panicked", "panic", r, "stack", string(debug.Stack()))
			res = protocol.Failure(protocol.KindOperation, fmt.Sprintf("internal error: %v", r))
		}
	}()

	res, err := w.dispatch(ctx, cmd)
	if err != nil {
		return protocol.Failure(protocol.KindOperation, err.Error())
	}
	res.Success = true
	return res
}

func (w *worker) dispatch(ctx context.Context, cmd *protocol.Command) (*protocol.Result, error) {
	switch cmd.Command {
	case protocol.CommandCreateWallet:
		wallet, err := w.client.GenerateWallet(ctx)
		if err != nil {
			return nil, err
		}
		jwk, err := wallet.JWK()
		if err != nil {
			return nil, fmt.Errorf("encode wallet: %w", err)
		}
		return &protocol.Result{Wallet: &protocol.Wallet{Address: wallet.Address(), JWK: jwk}}, nil

	case protocol.CommandSpawn:
		wallet, err := ledger.LoadWallet(cmd.JWKPath)
		if err != nil {
			return nil, err
		}
		pid, err := w.client.Spawn(ctx, wallet, ledger.SpawnRequest{
			Module:    cmd.Source,
			Scheduler: cmd.Scheduler,
			Data:      cmd.Data,
			Tags:      cmd.Tags,
		})
		if err != nil {
			return nil, err
		}
		return &protocol.Result{ProcessID: pid}, nil

	case protocol.CommandMessage:
		wallet, err := ledger.LoadWallet(cmd.JWKPath)
		if err != nil {
			return nil, err
		}
		mid, err := w.client.Message(ctx, wallet, ledger.MessageRequest{
			ProcessID: cmd.ProcessID,
			Data:      cmd.Message,
			Tags:      cmd.Tags,
		})
		if err != nil {
			return nil, err
		}
		return &protocol.Result{MessageID: mid}, nil

	case protocol.CommandResults:
		opts, err := protocol.ParseResultsOptions(cmd.Options)
		if err != nil {
			return nil, fmt.Errorf("invalid options: %w", err)
		}
		page, err := w.client.Results(ctx, cmd.ProcessID, opts)
		if err != nil {
			return nil, err
		}
		return &protocol.Result{Results: page}, nil

	case protocol.CommandSingleResult:
		node, err := w.client.Result(ctx, cmd.ProcessID, cmd.MessageID)
		if err != nil {
			return nil, err
		}
		return &protocol.Result{Node: node}, nil

	case protocol.CommandDryrun:
		out, err := w.client.DryRun(ctx, ledger.DryRunRequest{
			ProcessID: cmd.ProcessID,
			Data:      cmd.Data,
			Tags:      cmd.Tags,
		})
		if err != nil {
			return nil, err
		}
		return &protocol.Result{Output: out}, nil

	case protocol.CommandHealth:
		return &protocol.Result{Health: &protocol.Health{
			Worker:    Name,
			Version:   Version,
			MUURL:     w.endpoints.MUURL,
			CUURL:     w.endpoints.CUURL,
			Scheduler: w.endpoints.Scheduler,
		}}, nil
	}
	return nil, protocol.ErrUnknownCommand
}

// LedgerConfigFromEnv reads unit endpoints from the AOBRIDGE_* variables set
// by the client, falling back to the public testnet units.
func LedgerConfigFromEnv() (ledger.Config, error) {
	cfg := ledger.Config{
		MUURL:     envOr(protocol.EnvMUURL, config.DefaultMUURL),
		CUURL:     envOr(protocol.EnvCUURL, config.DefaultCUURL),
		Scheduler: envOr(protocol.EnvScheduler, config.DefaultScheduler),
	}
	if v := os.Getenv(protocol.EnvHTTPTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid %s %q", protocol.EnvHTTPTimeout, v)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
