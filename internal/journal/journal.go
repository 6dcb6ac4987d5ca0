// Package journal records every dispatched command in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/protocol"
)

const (
	maxStderrBytes = 64 * 1024
	defaultLimit   = 50
)

// Journal is the invocation_log table. It is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// New returns a Journal over a database prepared by storage.OpenSQLite.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Observe implements dispatch.Observer. Failures are logged, never returned:
// a full disk must not turn a successful ledger write into an error.
func (j *Journal) Observe(ctx context.Context, rec dispatch.Record) {
	if err := j.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.WithInvocation(rec.ID).Error("failed to journal invocation", "error", err)
	}
}

// Record appends one invocation.
func (j *Journal) Record(ctx context.Context, rec dispatch.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("invocation id is empty")
	}
	if rec.Command.Command == "" {
		return fmt.Errorf("command is empty")
	}

	var (
		kind      any
		lastError any
		stderr    any
		result    any
		processID any
	)
	if rec.Result != nil && !rec.Result.Success {
		kind = string(rec.Result.Kind)
		lastError = rec.Result.Error
	}
	if rec.Stderr != "" {
		s := rec.Stderr
		if len(s) > maxStderrBytes {
			s = s[:maxStderrBytes]
		}
		stderr = s
	}
	if pid := rec.ProcessID(); pid != "" {
		processID = pid
	}
	if rec.Result != nil {
		b, err := json.Marshal(redact(rec.Command.Command, rec.Result))
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = string(b)
	}

	completed := rec.StartedAt.Add(rec.Duration)
	_, err := j.db.ExecContext(ctx, `
INSERT INTO invocation_log(
  id, command, process_id, status, kind, last_error, stderr, exit_code, digest, result,
  started_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, string(rec.Command.Command), processID, StatusFor(rec.Result), kind, lastError, stderr,
		rec.ExitCode, rec.Digest, result,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), completed.UTC().Format(time.RFC3339Nano),
		rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert invocation_log: %w", err)
	}
	return nil
}

// redact drops private key material before a Result is persisted. Raw
// output of create_wallet may hold a partial JWK, so it is never kept.
func redact(cmd protocol.Name, res *protocol.Result) *protocol.Result {
	if res.Wallet == nil && (cmd != protocol.CommandCreateWallet || res.Raw == "") {
		return res
	}
	cp := *res
	if res.Wallet != nil {
		cp.Wallet = &protocol.Wallet{Address: res.Wallet.Address}
	}
	if cmd == protocol.CommandCreateWallet {
		cp.Raw = ""
	}
	return &cp
}

const selectColumns = `
  id, command, process_id, status, kind, last_error, stderr, exit_code, digest, result,
  started_at, completed_at, duration_ms`

// Get returns one invocation or ErrNotFound.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, "SELECT"+selectColumns+"\nFROM invocation_log WHERE id = ?;", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return e, nil
}

// List returns the newest invocations first.
func (j *Journal) List(ctx context.Context, f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Command != "" {
		where = append(where, "command = ?")
		args = append(args, string(f.Command))
	}
	if f.ProcessID != "" {
		where = append(where, "process_id = ?")
		args = append(args, f.ProcessID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	q := "SELECT" + selectColumns + "\nFROM invocation_log"
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY started_at DESC, rowid DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes invocations that completed before now-retention.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := j.db.ExecContext(ctx, "DELETE FROM invocation_log WHERE completed_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune invocation_log: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e            Entry
		command      string
		status       string
		processID    sql.NullString
		kind         sql.NullString
		lastError    sql.NullString
		stderr       sql.NullString
		digest       sql.NullString
		result       sql.NullString
		startedAtS   string
		completedAtS string
		durationMS   int64
	)
	if err := s.Scan(
		&e.ID, &command, &processID, &status, &kind, &lastError, &stderr, &e.ExitCode, &digest, &result,
		&startedAtS, &completedAtS, &durationMS,
	); err != nil {
		return nil, err
	}

	e.Command = protocol.Name(command)
	e.Status = Status(status)
	e.ProcessID = processID.String
	e.Kind = protocol.Kind(kind.String)
	e.Digest = digest.String
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	if stderr.Valid {
		e.Stderr = &stderr.String
	}
	if result.Valid {
		e.Result = json.RawMessage(result.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, completedAtS); err == nil {
		e.CompletedAt = t
	}
	return &e, nil
}
