// Package ledger talks to the AO units: it builds and signs data items for the
// messenger unit (MU) and queries the compute unit (CU).
package ledger

import (
	"context"
	"encoding/json"

	"github.com/mattjoyce/aobridge/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/mattjoyce/aobridge/internal/ledger Client

// Client is the set of ledger operations the worker dispatches to.
type Client interface {
	GenerateWallet(ctx context.Context) (*Wallet, error)
	Spawn(ctx context.Context, w *Wallet, req SpawnRequest) (string, error)
	Message(ctx context.Context, w *Wallet, req MessageRequest) (string, error)
	Results(ctx context.Context, processID string, opts *protocol.ResultsOptions) (*protocol.ResultPage, error)
	Result(ctx context.Context, processID, messageID string) (json.RawMessage, error)
	DryRun(ctx context.Context, req DryRunRequest) (json.RawMessage, error)
}

// SpawnRequest creates a process from a module transaction.
type SpawnRequest struct {
	Module    string
	Scheduler string // empty uses the client default
	Data      string // empty uses DefaultSpawnData
	Tags      []protocol.Tag
}

// MessageRequest is a signed message to a process.
type MessageRequest struct {
	ProcessID string
	Data      string
	Tags      []protocol.Tag
}

// DryRunRequest evaluates a message without committing it.
type DryRunRequest struct {
	ProcessID string
	Data      string
	Tags      []protocol.Tag
}

// Protocol tag values stamped on every item.
const (
	DataProtocol     = "ao"
	Variant          = "ao.TN.1"
	SDK              = "aoconnect"
	DefaultSpawnData = "1984"
)

func spawnTags(module, scheduler string, user []protocol.Tag) []protocol.Tag {
	tags := append([]protocol.Tag{}, user...)
	return append(tags,
		protocol.Tag{Name: "Data-Protocol", Value: DataProtocol},
		protocol.Tag{Name: "Variant", Value: Variant},
		protocol.Tag{Name: "Type", Value: "Process"},
		protocol.Tag{Name: "Module", Value: module},
		protocol.Tag{Name: "Scheduler", Value: scheduler},
		protocol.Tag{Name: "SDK", Value: SDK},
	)
}

func messageTags(user []protocol.Tag) []protocol.Tag {
	tags := append([]protocol.Tag{}, user...)
	return append(tags,
		protocol.Tag{Name: "Data-Protocol", Value: DataProtocol},
		protocol.Tag{Name: "Variant", Value: Variant},
		protocol.Tag{Name: "Type", Value: "Message"},
		protocol.Tag{Name: "SDK", Value: SDK},
	)
}

func dryRunTags(user []protocol.Tag) []protocol.Tag {
	tags := append([]protocol.Tag{}, user...)
	return append(tags,
		protocol.Tag{Name: "Data-Protocol", Value: DataProtocol},
		protocol.Tag{Name: "Type", Value: "Message"},
		protocol.Tag{Name: "Variant", Value: Variant},
	)
}
