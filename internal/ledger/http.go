package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/aobridge/internal/log"
	"github.com/mattjoyce/aobridge/internal/protocol"
)

// maxResponseBytes caps unit responses read into memory.
const maxResponseBytes = 16 << 20

// Config points an HTTPClient at the units.
type Config struct {
	MUURL     string
	CUURL     string
	Scheduler string
	Timeout   time.Duration
}

// UnitError is a non-2xx answer or an error document from a unit.
type UnitError struct {
	Unit   string // "mu" or "cu"
	Status int
	Body   string
}

func (e *UnitError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s error: %s", e.Unit, e.Body)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Unit, e.Status, e.Body)
}

// IsNotFound reports whether err is a unit 404.
func IsNotFound(err error) bool {
	var ue *UnitError
	return errors.As(err, &ue) && ue.Status == http.StatusNotFound
}

// HTTPClient implements Client against MU and CU HTTP endpoints.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates a client. A zero Timeout means 30s.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.MUURL = strings.TrimRight(cfg.MUURL, "/")
	cfg.CUURL = strings.TrimRight(cfg.CUURL, "/")
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: log.WithComponent("ledger"),
	}
}

// GenerateWallet creates a new wallet locally; no unit is contacted.
func (c *HTTPClient) GenerateWallet(ctx context.Context) (*Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GenerateWallet()
}

// Spawn signs a process item and posts it to the MU. The process id is the item id.
func (c *HTTPClient) Spawn(ctx context.Context, w *Wallet, req SpawnRequest) (string, error) {
	if req.Module == "" {
		return "", errors.New("module is required")
	}
	scheduler := req.Scheduler
	if scheduler == "" {
		scheduler = c.cfg.Scheduler
	}
	if scheduler == "" {
		return "", errors.New("no scheduler configured")
	}
	data := req.Data
	if data == "" {
		data = DefaultSpawnData
	}

	item, err := NewDataItem("", spawnTags(req.Module, scheduler, req.Tags), []byte(data))
	if err != nil {
		return "", fmt.Errorf("build process: %w", err)
	}
	return c.post(ctx, w, item)
}

// Message signs a message item targeting the process and posts it to the MU.
func (c *HTTPClient) Message(ctx context.Context, w *Wallet, req MessageRequest) (string, error) {
	item, err := NewDataItem(req.ProcessID, messageTags(req.Tags), []byte(req.Data))
	if err != nil {
		return "", fmt.Errorf("build message: %w", err)
	}
	return c.post(ctx, w, item)
}

func (c *HTTPClient) post(ctx context.Context, w *Wallet, item *DataItem) (string, error) {
	if err := item.Sign(w); err != nil {
		return "", err
	}
	raw, err := item.Bytes()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MUURL+"/", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("posting data item", "id", item.ID(), "bytes", len(raw))
	body, err := c.do(req, "mu")
	if err != nil {
		return "", err
	}

	var ack struct {
		ID string `json:"id"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &ack); err != nil {
			return "", fmt.Errorf("decode mu response: %w", err)
		}
	}
	if ack.ID != "" && ack.ID != item.ID() {
		c.logger.Warn("mu acknowledged a different id", "want", item.ID(), "got", ack.ID)
	}
	return item.ID(), nil
}

// Results reads one page of results. Edge order is whatever the CU returned.
func (c *HTTPClient) Results(ctx context.Context, processID string, opts *protocol.ResultsOptions) (*protocol.ResultPage, error) {
	q := url.Values{}
	for _, kv := range opts.Query() {
		q.Add(kv[0], kv[1])
	}
	u := c.cfg.CUURL + "/results/" + url.PathEscape(processID)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	page := &protocol.ResultPage{}
	if err := json.Unmarshal(body, page); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if page.Edges == nil {
		page.Edges = []protocol.Edge{}
	}
	return page, nil
}

// Result reads the evaluation result of one message.
func (c *HTTPClient) Result(ctx context.Context, processID, messageID string) (json.RawMessage, error) {
	u := c.cfg.CUURL + "/result/" + url.PathEscape(messageID) + "?" + url.Values{"process-id": {processID}}.Encode()
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	return checkDocument(body)
}

// DryRun evaluates a message on the CU without signing or committing it.
func (c *HTTPClient) DryRun(ctx context.Context, req DryRunRequest) (json.RawMessage, error) {
	tags := dryRunTags(req.Tags)
	if err := protocol.ValidateTags(tags); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(struct {
		ID     string         `json:"Id"`
		Owner  string         `json:"Owner"`
		Target string         `json:"Target"`
		Anchor string         `json:"Anchor"`
		Data   string         `json:"Data"`
		Tags   []protocol.Tag `json:"Tags"`
	}{
		ID:     "1234",
		Owner:  "1234",
		Target: req.ProcessID,
		Anchor: "0",
		Data:   req.Data,
		Tags:   tags,
	})
	if err != nil {
		return nil, err
	}

	u := c.cfg.CUURL + "/dry-run?" + url.Values{"process-id": {req.ProcessID}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq, "cu")
	if err != nil {
		return nil, err
	}
	return checkDocument(body)
}

func (c *HTTPClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, "cu")
}

func (c *HTTPClient) do(req *http.Request, unit string) ([]byte, error) {
	resp, err := c.http.Do(req) // #nosec G704 -- unit URLs come from configuration
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", unit, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", unit, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UnitError{Unit: unit, Status: resp.StatusCode, Body: errorText(body)}
	}
	return body, nil
}

// checkDocument turns a 200 response carrying {"error": "..."} into an error.
func checkDocument(body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("cu returned invalid JSON: %s", truncate(string(body), 200))
	}
	var probe struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		if msg := errorString(probe.Error); msg != "" {
			return nil, &UnitError{Unit: "cu", Body: msg}
		}
	}
	return json.RawMessage(body), nil
}

func errorText(body []byte) string {
	var doc struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		if msg := errorString(doc.Error); msg != "" {
			return msg
		}
	}
	return truncate(strings.TrimSpace(string(body)), 500)
}

func errorString(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case bool:
		return ""
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
