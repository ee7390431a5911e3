package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"research-client/internal/domain"
	"research-client/internal/domain/model"
	"research-client/internal/domain/ports/adapter"
	"research-client/internal/infra/logging"
	"research-client/internal/infra/metrics"
)

// Compile-time assurance this client satisfies the port
var _ adapter.ResearchService = (*Client)(nil)

const (
	executeAsyncPath = "/workflows/execute-async"
	streamPath       = "/workflows/stream"
)

// Client talks to the analysis service.
// Every request carries the current bearer token from the TokenSource.
// Authorization: Bearer <token>; the stream endpoint takes the token as a query credential.
type Client struct {
	base   string
	tokens TokenSource
	client *http.Client
	stream *http.Client // no overall timeout, streams are long-lived
	log    *zerolog.Logger
	now    func() time.Time
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, log *zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("research: base url empty")
	}
	if tokens == nil {
		return nil, errors.New("research: token source is nil")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		tokens: tokens,
		client: &http.Client{Timeout: timeout},
		stream: &http.Client{},
		log:    log,
		now:    time.Now,
	}, nil
}

// rawRequestLabel is the metrics endpoint label of untyped calls. Raw paths carry ids.
const rawRequestLabel = "request"

// Request performs an authenticated call and returns the raw JSON body.
// An empty body yields nil, nil. Non-2xx responses yield *domain.HTTPError.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	return c.do(ctx, rawRequestLabel, method, endpoint, body)
}

// RequestInto is Request followed by decoding into out. It reports whether a body was present.
func (c *Client) RequestInto(ctx context.Context, method, endpoint string, body, out any) (bool, error) {
	raw, err := c.Request(ctx, method, endpoint, body)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, name, method, endpoint string, body any) (json.RawMessage, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveRequest(name, 0, time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.ObserveRequest(name, resp.StatusCode, time.Since(start).Milliseconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return nil, &domain.HTTPError{Status: resp.StatusCode, Endpoint: endpoint, Body: snippet(data)}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

// ExecuteAsync submits a task and returns the handle of the started run.
func (c *Client) ExecuteAsync(ctx context.Context, r adapter.ExecuteRequest) (model.ExecutionHandle, error) {
	if r.Type == "" {
		r.Type = "agent"
	}
	raw, err := c.do(ctx, "execute_async", http.MethodPost, executeAsyncPath, r)
	if err != nil {
		return model.ExecutionHandle{}, err
	}
	var payload struct {
		WorkflowID  string `json:"workflowId"`
		WorkflowID2 string `json:"workflow_id"`
		RunID       string `json:"runId"`
		RunID2      string `json:"run_id"`
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return model.ExecutionHandle{}, fmt.Errorf("decode execute-async response: %w", err)
		}
	}
	h := model.ExecutionHandle{WorkflowID: first(payload.WorkflowID, payload.WorkflowID2), RunID: first(payload.RunID, payload.RunID2)}
	if h.WorkflowID == "" || h.RunID == "" {
		return model.ExecutionHandle{}, errors.New("execute-async response missing workflow or run id")
	}
	return h, nil
}

// RunStatus queries the status of one run.
func (c *Client) RunStatus(ctx context.Context, h model.ExecutionHandle) (model.RunStatus, error) {
	endpoint := "/workflows/" + url.PathEscape(h.WorkflowID) + "/runs/" + url.PathEscape(h.RunID) + "/status"
	raw, err := c.do(ctx, "run_status", http.MethodGet, endpoint, nil)
	if err != nil || raw == nil {
		return model.RunStatus{}, err
	}
	var payload struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return model.RunStatus{}, fmt.Errorf("decode run status: %w", err)
	}
	st := model.RunStatus{Status: payload.Status}
	res := bytes.TrimSpace(payload.Result)
	if len(res) > 0 && res[0] == '{' {
		var r struct {
			Message    json.RawMessage `json:"message"`
			Content    json.RawMessage `json:"content"`
			DocumentID string          `json:"document_id"`
			DocID      string          `json:"docId"`
		}
		if err := json.Unmarshal(res, &r); err == nil {
			st.Message = first(textOf(r.Message), textOf(r.Content))
			st.DocumentID = first(r.DocumentID, r.DocID)
		}
	} else {
		st.Message = textOf(res)
	}
	return st, nil
}

// Stream opens the event stream of a run and decodes it until end-of-body.
// It never retries; reconnecting is the caller's decision.
func (c *Client) Stream(ctx context.Context, h model.ExecutionHandle, onEvent func(model.StreamEvent)) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("workflow_id", h.WorkflowID)
	q.Set("run_id", h.RunID)
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("token", tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+streamPath+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return &domain.HTTPError{Status: resp.StatusCode, Endpoint: streamPath, Body: snippet(body)}
	}

	dec := NewLineDecoder(onEvent)
	_, err = io.Copy(dec, resp.Body)
	if err == nil {
		dec.Flush()
	}
	c.log.Debug().Str("workflow_id", h.WorkflowID).Int("frames", dec.Delivered()).Int("dropped", dec.Dropped()).Msg("stream ended")
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// ListDocuments fetches the document catalog.
func (c *Client) ListDocuments(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, "documents", http.MethodGet, "/documents", nil)
}

// ListWorkspaceMembers fetches the member list of one workspace.
func (c *Client) ListWorkspaceMembers(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	return c.do(ctx, "workspace_members", http.MethodGet, "/workspaces/"+url.PathEscape(workspaceID)+"/members", nil)
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
