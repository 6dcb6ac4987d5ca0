package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/journal"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/state"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Version:       s.config.Version,
	})
}

// handleCreateWallet handles POST /wallets.
func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, protocol.Command{Command: protocol.CommandCreateWallet}, http.StatusCreated)
}

// handleSpawn handles POST /processes.
func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req SpawnRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.execute(w, r, protocol.Command{
		Command:   protocol.CommandSpawn,
		Source:    req.Source,
		Scheduler: req.Scheduler,
		Data:      req.Data,
		Tags:      req.Tags,
	}, http.StatusCreated)
}

// handleSendMessage handles POST /processes/{processID}/messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.execute(w, r, protocol.Command{
		Command:   protocol.CommandMessage,
		ProcessID: chi.URLParam(r, "processID"),
		Message:   req.Message,
		Tags:      req.Tags,
	}, http.StatusCreated)
}

// handleResults handles GET /processes/{processID}/results?sort=&limit=&from=&to=.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	opts := map[string]any{}
	for _, key := range []string{"sort", "limit", "from", "to"} {
		if v := r.URL.Query().Get(key); v != "" {
			opts[key] = v
		}
	}
	if len(opts) == 0 {
		opts = nil
	}
	s.execute(w, r, protocol.Command{
		Command:   protocol.CommandResults,
		ProcessID: chi.URLParam(r, "processID"),
		Options:   opts,
	}, http.StatusOK)
}

// handleSingleResult handles GET /processes/{processID}/results/{messageID}.
func (s *Server) handleSingleResult(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, protocol.Command{
		Command:   protocol.CommandSingleResult,
		ProcessID: chi.URLParam(r, "processID"),
		MessageID: chi.URLParam(r, "messageID"),
	}, http.StatusOK)
}

// handleDryrun handles POST /processes/{processID}/dryrun.
func (s *Server) handleDryrun(w http.ResponseWriter, r *http.Request) {
	var req DryrunRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.execute(w, r, protocol.Command{
		Command:   protocol.CommandDryrun,
		ProcessID: chi.URLParam(r, "processID"),
		Data:      req.Data,
		Tags:      req.Tags,
	}, http.StatusOK)
}

// execute runs cmd and writes the Result envelope with a status derived from its kind.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd protocol.Command, okStatus int) {
	res, err := s.dispatch.Execute(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, dispatch.ErrConfiguration) {
			s.writeError(w, http.StatusPreconditionFailed, err.Error())
			return
		}
		s.logger.Error("dispatch failed", "command", cmd.Command, "error", err)
		s.writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	if res.Success {
		respondJSON(w, okStatus, res)
		return
	}
	respondJSON(w, StatusForKind(res.Kind), res)
}

// StatusForKind maps a failed Result kind onto an HTTP status.
func StatusForKind(kind protocol.Kind) int {
	switch kind {
	case protocol.KindInvalid:
		return http.StatusBadRequest
	case protocol.KindOperation:
		return http.StatusBadGateway
	case protocol.KindTimeout:
		return http.StatusGatewayTimeout
	case protocol.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleListProcesses handles GET /processes.
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	procs, err := s.book.ListProcesses(r.Context())
	if err != nil {
		s.logger.Error("failed to list processes", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list processes")
		return
	}
	current, err := s.book.Current(r.Context())
	if err != nil && !errors.Is(err, state.ErrNoCurrentProcess) {
		s.logger.Error("failed to read current process", "error", err)
	}

	out := make([]ProcessResponse, 0, len(procs))
	for _, p := range procs {
		out = append(out, ProcessResponse{
			ID:           p.ID,
			Module:       p.Module,
			Scheduler:    p.Scheduler,
			Name:         p.Name,
			InvocationID: p.InvocationID,
			CreatedAt:    p.CreatedAt,
			Current:      p.ID == current,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"processes": out})
}

// handleListMessages handles GET /processes/{processID}/messages.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.book.Messages(r.Context(), chi.URLParam(r, "processID"))
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:           m.ID,
			ProcessID:    m.ProcessID,
			Action:       m.Action,
			InvocationID: m.InvocationID,
			SentAt:       m.SentAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// handleGetInvocation handles GET /invocations/{invocationID}.
func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	e, err := s.journal.Get(r.Context(), chi.URLParam(r, "invocationID"))
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}
	respondJSON(w, http.StatusOK, invocationResponse(e))
}

// handleListInvocations handles GET /invocations?command=&process_id=&status=&limit=.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := journal.Filter{
		Command:   protocol.Name(q.Get("command")),
		ProcessID: q.Get("process_id"),
		Status:    journal.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := s.journal.List(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}
	out := make([]InvocationResponse, 0, len(entries))
	for _, e := range entries {
		resp := invocationResponse(e)
		resp.Stderr = ""
		resp.Result = nil
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, map[string]any{"invocations": out})
}

func invocationResponse(e *journal.Entry) InvocationResponse {
	resp := InvocationResponse{
		InvocationID: e.ID,
		Command:      string(e.Command),
		ProcessID:    e.ProcessID,
		Status:       string(e.Status),
		Kind:         string(e.Kind),
		ExitCode:     e.ExitCode,
		Digest:       e.Digest,
		Result:       e.Result,
		StartedAt:    e.StartedAt,
		CompletedAt:  e.CompletedAt,
		DurationMS:   e.Duration.Milliseconds(),
	}
	if e.LastError != nil {
		resp.Error = *e.LastError
	}
	if e.Stderr != nil {
		resp.Stderr = *e.Stderr
	}
	return resp
}

// decodeBody strictly decodes a JSON request body. An empty body decodes to the zero value.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
