package protocol

import "encoding/json"

// Name identifies a bridge command.
type Name string

const (
	CommandCreateWallet Name = "create_wallet"
	CommandSpawn        Name = "spawn"
	CommandMessage      Name = "message"
	CommandResults      Name = "results"
	CommandSingleResult Name = "single_result"
	CommandDryrun       Name = "dryrun"
	CommandHealth       Name = "health"
)

// Command is the request envelope handed to the worker as its only argument.
type Command struct {
	Command   Name           `json:"command"`
	JWKPath   string         `json:"jwkPath,omitempty"`
	Source    string         `json:"source,omitempty"`
	ProcessID string         `json:"processId,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      string         `json:"data,omitempty"`
	Tags      []Tag          `json:"tags,omitempty"`
	Scheduler string         `json:"scheduler,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Tag is an ordered name/value annotation. Order within a list is significant.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Kind classifies a failed Result.
type Kind string

const (
	KindInvalid   Kind = "invalid"   // rejected by the schema before any ledger call
	KindOperation Kind = "operation" // ledger call failed
	KindDecode    Kind = "decode"    // worker stdout could not be decoded
	KindSpawn     Kind = "spawn"     // worker could not be launched
	KindTimeout   Kind = "timeout"
	KindCancelled Kind = "cancelled"
)

// Result is the response envelope printed by the worker on stdout.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Raw     string `json:"raw,omitempty"`

	Wallet    *Wallet         `json:"wallet,omitempty"`
	ProcessID string          `json:"processId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Results   *ResultPage     `json:"results,omitempty"`
	Node      json.RawMessage `json:"node,omitempty"`
	Output    json.RawMessage `json:"result,omitempty"`
	Health    *Health         `json:"health,omitempty"`
}

// Wallet is the material returned by create_wallet. The JWK is opaque to the bridge.
type Wallet struct {
	Address string          `json:"address"`
	JWK     json.RawMessage `json:"jwk"`
}

// ResultPage is one page of process results as returned by the compute unit.
type ResultPage struct {
	Edges []Edge `json:"edges"`
}

// Edge is a single paginated result. Cursor feeds the from/to options.
type Edge struct {
	Cursor string          `json:"cursor"`
	Node   json.RawMessage `json:"node"`
}

// LastCursor returns the cursor of the final edge, or "" for an empty page.
func (p *ResultPage) LastCursor() string {
	if p == nil || len(p.Edges) == 0 {
		return ""
	}
	return p.Edges[len(p.Edges)-1].Cursor
}

// Health is the worker's answer to the health probe.
type Health struct {
	Worker    string `json:"worker"`
	Version   string `json:"version"`
	MUURL     string `json:"muUrl,omitempty"`
	CUURL     string `json:"cuUrl,omitempty"`
	Scheduler string `json:"scheduler,omitempty"`
}

// Failure builds a failed Result.
func Failure(kind Kind, msg string) *Result {
	return &Result{Success: false, Kind: kind, Error: msg}
}
