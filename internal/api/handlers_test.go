package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/journal"
	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/metrics"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/state"
	"github.com/mattjoyce/aobridge/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// fakeDispatcher returns canned results and remembers what it was asked.
type fakeDispatcher struct {
	mu       sync.Mutex
	commands []protocol.Command
	result   *protocol.Result
	err      error
}

func (f *fakeDispatcher) Execute(_ context.Context, cmd protocol.Command) (*protocol.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.result, f.err
}

func (f *fakeDispatcher) last(t *testing.T) protocol.Command {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.commands, "dispatcher was not called")
	return f.commands[len(f.commands)-1]
}

type testServer struct {
	server   *Server
	dispatch *fakeDispatcher
	book     *state.Book
	journal  *journal.Journal
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "aobridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if cfg.APIKey == "" && len(cfg.Tokens) == 0 {
		cfg.APIKey = "test-key"
	}
	fd := &fakeDispatcher{result: &protocol.Result{Success: true}}
	book := state.NewBook(db)
	j := journal.New(db)
	return &testServer{
		server:   New(cfg, fd, book, j, metrics.New().Handler(), log.WithComponent("api")),
		dispatch: fd,
		book:     book,
		journal:  j,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Config{Version: "1.2.3"})
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthzResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSpawn_BuildsCommand(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.dispatch.result = &protocol.Result{Success: true, ProcessID: "pid-1"}

	rec := ts.do(t, http.MethodPost, "/processes",
		`{"source":"mod-1","tags":[{"name":"Name","value":"demo"}],"data":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[protocol.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "pid-1", res.ProcessID)

	cmd := ts.dispatch.last(t)
	assert.Equal(t, protocol.CommandSpawn, cmd.Command)
	assert.Equal(t, "mod-1", cmd.Source)
	assert.Equal(t, "hello", cmd.Data)
	assert.Equal(t, []protocol.Tag{{Name: "Name", Value: "demo"}}, cmd.Tags)
}

func TestSpawn_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := ts.do(t, http.MethodPost, "/processes", `{"source":"m","bogus":true}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.dispatch.commands)
}

func TestSendMessage_UsesPathProcess(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.dispatch.result = &protocol.Result{Success: true, MessageID: "mid-1"}

	rec := ts.do(t, http.MethodPost, "/processes/pid-9/messages", `{"message":"ping"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	cmd := ts.dispatch.last(t)
	assert.Equal(t, protocol.CommandMessage, cmd.Command)
	assert.Equal(t, "pid-9", cmd.ProcessID)
	assert.Equal(t, "ping", cmd.Message)
}

func TestResults_ForwardsQueryOptions(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodGet, "/processes/pid-1/results?sort=DESC&limit=5&ignored=x", "")

	require.Equal(t, http.StatusOK, rec.Code)
	cmd := ts.dispatch.last(t)
	assert.Equal(t, protocol.CommandResults, cmd.Command)
	assert.Equal(t, map[string]any{"sort": "DESC", "limit": "5"}, cmd.Options)
}

func TestResults_NoQueryMeansNoOptions(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodGet, "/processes/pid-1/results", "")
	assert.Nil(t, ts.dispatch.last(t).Options)
}

func TestSingleResultAndDryrun(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodGet, "/processes/pid-1/results/mid-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cmd := ts.dispatch.last(t)
	assert.Equal(t, protocol.CommandSingleResult, cmd.Command)
	assert.Equal(t, "mid-2", cmd.MessageID)

	rec = ts.do(t, http.MethodPost, "/processes/pid-1/dryrun", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cmd = ts.dispatch.last(t)
	assert.Equal(t, protocol.CommandDryrun, cmd.Command)
	assert.Equal(t, "pid-1", cmd.ProcessID)
}

func TestExecute_FailureStatus(t *testing.T) {
	tests := []struct {
		kind protocol.Kind
		want int
	}{
		{protocol.KindInvalid, http.StatusBadRequest},
		{protocol.KindOperation, http.StatusBadGateway},
		{protocol.KindTimeout, http.StatusGatewayTimeout},
		{protocol.KindCancelled, http.StatusServiceUnavailable},
		{protocol.KindDecode, http.StatusInternalServerError},
		{protocol.KindSpawn, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ts := newTestServer(t, Config{})
			ts.dispatch.result = protocol.Failure(tt.kind, "boom")

			rec := ts.do(t, http.MethodPost, "/wallets", "")

			assert.Equal(t, tt.want, rec.Code)
			res := decode[protocol.Result](t, rec)
			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, "boom", res.Error)
		})
	}
}

func TestExecute_ConfigurationError(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.dispatch.result = nil
	ts.dispatch.err = dispatch.ErrConfiguration

	rec := ts.do(t, http.MethodPost, "/processes", `{"source":"m"}`)

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "configuration error")
}

func TestListProcesses_MarksCurrent(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()
	require.NoError(t, ts.book.AddProcess(ctx, state.Process{ID: "pid-a", CreatedAt: time.Now()}))
	require.NoError(t, ts.book.AddProcess(ctx, state.Process{ID: "pid-b", CreatedAt: time.Now()}))
	require.NoError(t, ts.book.Use(ctx, "pid-b"))

	rec := ts.do(t, http.MethodGet, "/processes", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Processes []ProcessResponse `json:"processes"`
	}](t, rec)
	require.Len(t, body.Processes, 2)
	for _, p := range body.Processes {
		assert.Equal(t, p.ID == "pid-b", p.Current, p.ID)
	}
}

func TestListMessages(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()
	require.NoError(t, ts.book.AddMessage(ctx, state.Message{ID: "mid-1", ProcessID: "pid-a", Action: "Eval", SentAt: time.Now()}))

	rec := ts.do(t, http.MethodGet, "/processes/pid-a/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Messages []MessageResponse `json:"messages"`
	}](t, rec)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "mid-1", body.Messages[0].ID)
	assert.Equal(t, "Eval", body.Messages[0].Action)
}

func TestInvocations(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()
	require.NoError(t, ts.journal.Record(ctx, dispatch.Record{
		ID:        "inv-1",
		Command:   protocol.Command{Command: protocol.CommandResults, ProcessID: "pid-a"},
		Result:    protocol.Failure(protocol.KindTimeout, "worker timed out"),
		Stderr:    "partial",
		StartedAt: time.Now().UTC(),
		Duration:  time.Second,
	}))

	rec := ts.do(t, http.MethodGet, "/invocations?status=timed_out", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Invocations []InvocationResponse `json:"invocations"`
	}](t, rec)
	require.Len(t, body.Invocations, 1)
	assert.Equal(t, "inv-1", body.Invocations[0].InvocationID)
	assert.Empty(t, body.Invocations[0].Stderr, "list omits stderr")

	rec = ts.do(t, http.MethodGet, "/invocations/inv-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[InvocationResponse](t, rec)
	assert.Equal(t, "timed_out", got.Status)
	assert.Equal(t, "timeout", got.Kind)
	assert.Equal(t, "partial", got.Stderr)
	assert.Equal(t, int64(1000), got.DurationMS)

	rec = ts.do(t, http.MethodGet, "/invocations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/invocations?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForKind_UnknownKind(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusForKind(protocol.Kind(strings.ToUpper("other"))))
}
