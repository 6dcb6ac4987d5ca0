package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/aobridge/internal/protocol"
)

// SpawnRequest is the JSON body for POST /processes.
type SpawnRequest struct {
	Source    string         `json:"source"`
	Scheduler string         `json:"scheduler,omitempty"`
	Data      string         `json:"data,omitempty"`
	Tags      []protocol.Tag `json:"tags,omitempty"`
}

// MessageRequest is the JSON body for POST /processes/{processID}/messages.
type MessageRequest struct {
	Message string         `json:"message"`
	Tags    []protocol.Tag `json:"tags,omitempty"`
}

// DryrunRequest is the JSON body for POST /processes/{processID}/dryrun.
type DryrunRequest struct {
	Data string         `json:"data,omitempty"`
	Tags []protocol.Tag `json:"tags,omitempty"`
}

// ProcessResponse is one entry of GET /processes.
type ProcessResponse struct {
	ID           string    `json:"process_id"`
	Module       string    `json:"module,omitempty"`
	Scheduler    string    `json:"scheduler,omitempty"`
	Name         string    `json:"name,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Current      bool      `json:"current"`
}

// MessageResponse is one entry of GET /processes/{processID}/messages.
type MessageResponse struct {
	ID           string    `json:"message_id"`
	ProcessID    string    `json:"process_id"`
	Action       string    `json:"action,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

// InvocationResponse is returned by GET /invocations/{invocationID}.
type InvocationResponse struct {
	InvocationID string          `json:"invocation_id"`
	Command      string          `json:"command"`
	ProcessID    string          `json:"process_id,omitempty"`
	Status       string          `json:"status"`
	Kind         string          `json:"kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	Stderr       string          `json:"stderr,omitempty"`
	ExitCode     int             `json:"exit_code"`
	Digest       string          `json:"digest,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	DurationMS   int64           `json:"duration_ms"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Version       string `json:"version"`
}
