// Package state keeps the local process book: processes this bridge spawned,
// messages it sent, and which process is current.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/protocol"
)

var (
	ErrNoCurrentProcess = errors.New("no current process; pass --process or run `aobridge process use <id>`")
	ErrProcessNotFound  = errors.New("process not found")
)

const currentProcessKey = "current_process"

// Process is a process known to the book.
type Process struct {
	ID           string    `json:"process_id"`
	Module       string    `json:"module,omitempty"`
	Scheduler    string    `json:"scheduler,omitempty"`
	Name         string    `json:"name,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is a message sent through the bridge.
type Message struct {
	ID           string    `json:"message_id"`
	ProcessID    string    `json:"process_id"`
	Action       string    `json:"action,omitempty"`
	Digest       string    `json:"digest,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

type Book struct {
	db       *sql.DB
	settings *Settings
	now      func() time.Time
}

func NewBook(db *sql.DB) *Book {
	return &Book{db: db, settings: NewSettings(db), now: time.Now}
}

// Observe implements dispatch.Observer. Successful spawns become the current
// process; successful messages are appended to their process.
func (b *Book) Observe(ctx context.Context, rec dispatch.Record) {
	if rec.Result == nil || !rec.Result.Success {
		return
	}
	ctx = context.WithoutCancel(ctx)
	logger := log.WithInvocation(rec.ID)

	switch rec.Command.Command {
	case protocol.CommandSpawn:
		p := Process{
			ID:           rec.Result.ProcessID,
			Module:       rec.Command.Source,
			Scheduler:    rec.Command.Scheduler,
			Name:         tagValue(rec.Command.Tags, "Name"),
			InvocationID: rec.ID,
		}
		if err := b.AddProcess(ctx, p); err != nil {
			logger.Error("failed to record process", "process_id", p.ID, "error", err)
			return
		}
		if err := b.Use(ctx, p.ID); err != nil {
			logger.Error("failed to set current process", "process_id", p.ID, "error", err)
		}
	case protocol.CommandMessage:
		m := Message{
			ID:           rec.Result.MessageID,
			ProcessID:    rec.Command.ProcessID,
			Action:       tagValue(rec.Command.Tags, "Action"),
			Digest:       rec.Digest,
			InvocationID: rec.ID,
		}
		if err := b.AddMessage(ctx, m); err != nil {
			logger.Error("failed to record message", "message_id", m.ID, "error", err)
		}
	}
}

// AddProcess records a process. Re-adding an id keeps the first record.
func (b *Book) AddProcess(ctx context.Context, p Process) error {
	if p.ID == "" {
		return fmt.Errorf("process id is empty")
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = b.now()
	}
	_, err := b.db.ExecContext(ctx, `
INSERT INTO processes(id, module, scheduler, name, invocation_id, created_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, p.ID, nullable(p.Module), nullable(p.Scheduler), nullable(p.Name), nullable(p.InvocationID),
		created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

// GetProcess returns one process or ErrProcessNotFound.
func (b *Book) GetProcess(ctx context.Context, id string) (*Process, error) {
	row := b.db.QueryRowContext(ctx, `
SELECT id, module, scheduler, name, invocation_id, created_at
FROM processes WHERE id = ?;
`, id)
	p, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get process: %w", err)
	}
	return p, nil
}

// ListProcesses returns processes in spawn order.
func (b *Book) ListProcesses(ctx context.Context) ([]*Process, error) {
	rows, err := b.db.QueryContext(ctx, `
SELECT id, module, scheduler, name, invocation_id, created_at
FROM processes
ORDER BY created_at ASC, rowid ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var out []*Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddMessage records a sent message.
func (b *Book) AddMessage(ctx context.Context, m Message) error {
	if m.ID == "" || m.ProcessID == "" {
		return fmt.Errorf("message and process ids are required")
	}
	sent := m.SentAt
	if sent.IsZero() {
		sent = b.now()
	}
	_, err := b.db.ExecContext(ctx, `
INSERT INTO messages(id, process_id, action, digest, invocation_id, sent_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, m.ID, m.ProcessID, nullable(m.Action), nullable(m.Digest), nullable(m.InvocationID),
		sent.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Messages returns messages sent to a process, oldest first.
func (b *Book) Messages(ctx context.Context, processID string) ([]*Message, error) {
	rows, err := b.db.QueryContext(ctx, `
SELECT id, process_id, action, digest, invocation_id, sent_at
FROM messages
WHERE process_id = ?
ORDER BY sent_at ASC, rowid ASC;
`, processID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m                     Message
			action, digest, invID sql.NullString
			sentAt                string
		)
		if err := rows.Scan(&m.ID, &m.ProcessID, &action, &digest, &invID, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Action, m.Digest, m.InvocationID = action.String, digest.String, invID.String
		if t, err := time.Parse(time.RFC3339Nano, sentAt); err == nil {
			m.SentAt = t
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Use makes id the current process. Ids spawned elsewhere are added to the book.
func (b *Book) Use(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("process id is empty")
	}
	if err := b.AddProcess(ctx, Process{ID: id}); err != nil {
		return err
	}
	return b.settings.Set(ctx, currentProcessKey, id)
}

// Current returns the current process id or ErrNoCurrentProcess.
func (b *Book) Current(ctx context.Context) (string, error) {
	id, err := b.settings.Get(ctx, currentProcessKey)
	if errors.Is(err, ErrSettingNotFound) {
		return "", ErrNoCurrentProcess
	}
	return id, err
}

// Resolve returns explicit when set, otherwise the current process.
func (b *Book) Resolve(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return b.Current(ctx)
}

func scanProcess(s interface{ Scan(...any) error }) (*Process, error) {
	var (
		p                              Process
		module, scheduler, name, invID sql.NullString
		createdAt                      string
	)
	if err := s.Scan(&p.ID, &module, &scheduler, &name, &invID, &createdAt); err != nil {
		return nil, err
	}
	p.Module, p.Scheduler, p.Name, p.InvocationID = module.String, scheduler.String, name.String, invID.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

func tagValue(tags []protocol.Tag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
