// Package ledgertest provides an in-memory MU/CU pair for tests.
package ledgertest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/aobridge/internal/ledger"
	"github.com/mattjoyce/aobridge/internal/protocol"
)

var (
	walletOnce sync.Once
	wallet     *ledger.Wallet
	walletErr  error
)

// Wallet returns a wallet shared by every test in the binary. Generating a
// 4096 bit key takes seconds, so it is done once.
func Wallet(t testing.TB) *ledger.Wallet {
	t.Helper()
	walletOnce.Do(func() {
		wallet, walletErr = ledger.GenerateWallet()
	})
	if walletErr != nil {
		t.Fatalf("generate wallet: %v", walletErr)
	}
	return wallet
}

// Unit is a fake messenger and compute unit served from one httptest server.
// Messages are "evaluated" by echoing their data back as Output.data.
type Unit struct {
	Server *httptest.Server

	mu        sync.Mutex
	processes map[string]*ledger.DataItem
	messages  map[string]*ledger.DataItem
	inbox     map[string][]string
	dryRuns   []map[string]any
}

// NewUnit starts a fake unit closed on test cleanup.
func NewUnit(t testing.TB) *Unit {
	t.Helper()
	u := &Unit{
		processes: make(map[string]*ledger.DataItem),
		messages:  make(map[string]*ledger.DataItem),
		inbox:     make(map[string][]string),
	}

	r := chi.NewRouter()
	r.Post("/", u.handleItem)
	r.Get("/results/{processID}", u.handleResults)
	r.Get("/result/{messageID}", u.handleResult)
	r.Post("/dry-run", u.handleDryRun)

	u.Server = httptest.NewServer(r)
	t.Cleanup(u.Server.Close)
	return u
}

// URL is the base URL for both units.
func (u *Unit) URL() string { return u.Server.URL }

// Process returns a spawned process item.
func (u *Unit) Process(id string) (*ledger.DataItem, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.processes[id]
	return p, ok
}

// Message returns a posted message item.
func (u *Unit) Message(id string) (*ledger.DataItem, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.messages[id]
	return m, ok
}

// DryRuns returns the dry-run payloads received so far.
func (u *Unit) DryRuns() []map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]map[string]any(nil), u.dryRuns...)
}

// AddProcess registers a process id without a signed spawn.
func (u *Unit) AddProcess(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.processes[id] = &ledger.DataItem{}
}

func (u *Unit) handleItem(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := ledger.ParseDataItem(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := item.Verify(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	typ, _ := item.Tag("Type")
	switch typ {
	case "Process":
		u.processes[item.ID()] = item
	case "Message":
		target := item.TargetID()
		if _, ok := u.processes[target]; !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Process %s not found", target))
			return
		}
		u.messages[item.ID()] = item
		u.inbox[target] = append(u.inbox[target], item.ID())
	default:
		writeError(w, http.StatusBadRequest, "missing Type tag")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": item.ID(), "message": "Processing DataItem"})
}

func (u *Unit) handleResults(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "processID")

	u.mu.Lock()
	_, known := u.processes[pid]
	ids := append([]string(nil), u.inbox[pid]...)
	items := make([]*ledger.DataItem, len(ids))
	for i, id := range ids {
		items[i] = u.messages[id]
	}
	u.mu.Unlock()

	if !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Process %s not found", pid))
		return
	}

	type edge struct {
		Cursor string         `json:"cursor"`
		Node   map[string]any `json:"node"`
	}
	edges := make([]edge, 0, len(items))
	for i, it := range items {
		edges = append(edges, edge{Cursor: strconv.Itoa(i + 1), Node: evaluate(string(it.Data))})
	}
	if r.URL.Query().Get("sort") == protocol.SortDescending {
		for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
			edges[i], edges[j] = edges[j], edges[i]
		}
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit < len(edges) {
		edges = edges[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": edges})
}

func (u *Unit) handleResult(w http.ResponseWriter, r *http.Request) {
	mid := chi.URLParam(r, "messageID")
	pid := r.URL.Query().Get("process-id")

	u.mu.Lock()
	item, ok := u.messages[mid]
	u.mu.Unlock()

	if !ok || item.TargetID() != pid {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Message %s not found", mid))
		return
	}
	writeJSON(w, http.StatusOK, evaluate(string(item.Data)))
}

func (u *Unit) handleDryRun(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("process-id")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u.mu.Lock()
	_, known := u.processes[pid]
	u.dryRuns = append(u.dryRuns, payload)
	u.mu.Unlock()

	if !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Process %s not found", pid))
		return
	}
	data, _ := payload["Data"].(string)
	writeJSON(w, http.StatusOK, evaluate(data))
}

func evaluate(data string) map[string]any {
	return map[string]any{
		"Output":   map[string]any{"data": data},
		"Messages": []any{},
		"Spawns":   []any{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
