// Command aobridge-worker executes one bridge Command per invocation:
//
//	aobridge-worker '{"command":"health"}'
//
// The Result is printed on stdout; logs go to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/aobridge/internal/ledger"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log.Setup(os.Getenv(protocol.EnvLogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfg, err := worker.LedgerConfigFromEnv()
	if err != nil {
		_ = protocol.EncodeResult(os.Stdout, protocol.Failure(protocol.KindInvalid, err.Error()))
		return worker.ExitFailure
	}
	client := ledger.NewHTTPClient(cfg)
	return worker.Run(ctx, args, os.Stdout, client, worker.WithEndpoints(cfg))
}
