package journal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mattjoyce/aobridge/internal/protocol"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// StatusFor maps a Result onto a terminal status.
func StatusFor(res *protocol.Result) Status {
	switch {
	case res == nil:
		return StatusFailed
	case res.Success:
		return StatusSucceeded
	case res.Kind == protocol.KindTimeout:
		return StatusTimedOut
	case res.Kind == protocol.KindCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Entry is one row of invocation_log.
type Entry struct {
	ID          string          `json:"invocation_id"`
	Command     protocol.Name   `json:"command"`
	ProcessID   string          `json:"process_id,omitempty"`
	Status      Status          `json:"status"`
	Kind        protocol.Kind   `json:"kind,omitempty"`
	LastError   *string         `json:"error,omitempty"`
	Stderr      *string         `json:"stderr,omitempty"`
	ExitCode    int             `json:"exit_code"`
	Digest      string          `json:"digest,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration_ns"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Command   protocol.Name
	ProcessID string
	Status    Status
	Limit     int
}

var ErrNotFound = errors.New("invocation not found")
