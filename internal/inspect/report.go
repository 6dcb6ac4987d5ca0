// Package inspect renders a single journaled invocation together with its
// process context and the other invocations that touched the same process.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/aobridge/internal/journal"
	"github.com/mattjoyce/aobridge/internal/state"
)

const historyLimit = 10

// Journal is the read side of *journal.Journal.
type Journal interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	List(ctx context.Context, f journal.Filter) ([]*journal.Entry, error)
}

// Book is the read side of *state.Book.
type Book interface {
	GetProcess(ctx context.Context, id string) (*state.Process, error)
	Current(ctx context.Context) (string, error)
}

// Report is the structured JSON representation of an invocation report.
type Report struct {
	InvocationID string          `json:"invocation_id"`
	Command      string          `json:"command"`
	Status       string          `json:"status"`
	Kind         string          `json:"kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	ExitCode     int             `json:"exit_code"`
	Digest       string          `json:"digest,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	DurationMS   int64           `json:"duration_ms"`
	ProcessID    string          `json:"process_id,omitempty"`
	Process      *Process        `json:"process,omitempty"`
	History      []Step          `json:"history"`
	Stderr       string          `json:"stderr,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Process is the process book entry behind an invocation.
type Process struct {
	Module    string    `json:"module,omitempty"`
	Scheduler string    `json:"scheduler,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
}

// Step is one other invocation against the same process, newest first.
type Step struct {
	InvocationID string    `json:"invocation_id"`
	Command      string    `json:"command"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
}

// BuildReport renders a terminal-friendly report for an invocation.
func BuildReport(ctx context.Context, j Journal, b Book, id string) (string, error) {
	report, err := gatherReportData(ctx, j, b, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Invocation Report\n")
	fmt.Fprintf(&out, "Invocation  : %s\n", report.InvocationID)
	fmt.Fprintf(&out, "Command     : %s\n", report.Command)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	if report.Kind != "" {
		fmt.Fprintf(&out, "Kind        : %s\n", report.Kind)
	}
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       : %s\n", report.Error)
	}
	fmt.Fprintf(&out, "Exit code   : %d\n", report.ExitCode)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %s\n", time.Duration(report.DurationMS)*time.Millisecond)
	fmt.Fprintf(&out, "Digest      : %s\n", renderUnset(report.Digest, "<none>"))
	fmt.Fprintf(&out, "\n")

	if report.ProcessID != "" {
		fmt.Fprintf(&out, "Process %s\n", report.ProcessID)
		if p := report.Process; p != nil {
			fmt.Fprintf(&out, "    module     : %s\n", renderUnset(p.Module, "<unknown>"))
			fmt.Fprintf(&out, "    scheduler  : %s\n", renderUnset(p.Scheduler, "<unknown>"))
			fmt.Fprintf(&out, "    name       : %s\n", renderUnset(p.Name, "<none>"))
			fmt.Fprintf(&out, "    spawned    : %s\n", p.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(&out, "    current    : %t\n", p.Current)
		} else {
			fmt.Fprintf(&out, "    <not in process book>\n")
		}
		if len(report.History) > 0 {
			fmt.Fprintf(&out, "    history    :\n")
			for _, s := range report.History {
				fmt.Fprintf(&out, "      - %s %s %s (%s)\n", s.StartedAt.Format(time.RFC3339), s.Command, s.Status, s.InvocationID)
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	if report.Stderr != "" {
		fmt.Fprintf(&out, "Stderr:\n")
		for _, line := range strings.Split(strings.TrimRight(report.Stderr, "\n"), "\n") {
			fmt.Fprintf(&out, "    %s\n", line)
		}
		fmt.Fprintf(&out, "\n")
	}

	fmt.Fprintf(&out, "Result:\n")
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(report.Result)), "\n") {
		fmt.Fprintf(&out, "    %s\n", line)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable invocation report.
func BuildJSONReport(ctx context.Context, j Journal, b Book, id string) (string, error) {
	report, err := gatherReportData(ctx, j, b, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, j Journal, b Book, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("invocation id is required")
	}

	e, err := j.Get(ctx, id)
	if errors.Is(err, journal.ErrNotFound) {
		return nil, fmt.Errorf("invocation %q not found", id)
	}
	if err != nil {
		return nil, err
	}

	report := &Report{
		InvocationID: e.ID,
		Command:      string(e.Command),
		Status:       string(e.Status),
		Kind:         string(e.Kind),
		ExitCode:     e.ExitCode,
		Digest:       e.Digest,
		StartedAt:    e.StartedAt,
		DurationMS:   e.Duration.Milliseconds(),
		ProcessID:    e.ProcessID,
		History:      make([]Step, 0),
		Result:       e.Result,
	}
	if e.LastError != nil {
		report.Error = *e.LastError
	}
	if e.Stderr != nil {
		report.Stderr = *e.Stderr
	}
	if e.ProcessID == "" {
		return report, nil
	}

	p, err := b.GetProcess(ctx, e.ProcessID)
	switch {
	case err == nil:
		current, _ := b.Current(ctx)
		report.Process = &Process{
			Module:    p.Module,
			Scheduler: p.Scheduler,
			Name:      p.Name,
			CreatedAt: p.CreatedAt,
			Current:   current == p.ID,
		}
	case !errors.Is(err, state.ErrProcessNotFound):
		return nil, fmt.Errorf("load process %q: %w", e.ProcessID, err)
	}

	related, err := j.List(ctx, journal.Filter{ProcessID: e.ProcessID, Limit: historyLimit + 1})
	if err != nil {
		return nil, fmt.Errorf("load process history: %w", err)
	}
	for _, r := range related {
		if r.ID == e.ID || len(report.History) == historyLimit {
			continue
		}
		report.History = append(report.History, Step{
			InvocationID: r.ID,
			Command:      string(r.Command),
			Status:       string(r.Status),
			StartedAt:    r.StartedAt,
		})
	}

	return report, nil
}

func prettyJSON(raw json.RawMessage) string {
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

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
