//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"research-client/internal/domain"
	"research-client/internal/domain/model"
	"research-client/internal/infra/api"
	"research-client/internal/infra/logging"
)

//
// ---------------- fakes ----------------
//

type fakeJobs struct {
	jobs      []model.Job
	startErr  error
	lastParam model.ResearchParams
}

func (f *fakeJobs) StartJob(_ context.Context, p model.ResearchParams) (model.Job, error) {
	f.lastParam = p
	if f.startErr != nil {
		return model.Job{}, f.startErr
	}
	j := *model.NewJob(int64(len(f.jobs)+1), p.Name, p.WorkspaceID, nil, false, time.Now())
	f.jobs = append(f.jobs, j)
	return j, nil
}

func (f *fakeJobs) Jobs() []model.Job { return f.jobs }

func (f *fakeJobs) Job(id int64) (model.Job, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return model.Job{}, domain.ErrNotFound
}

func (f *fakeJobs) Restore(context.Context) error { return nil }
func (f *fakeJobs) Close()                        {}

type fakeChat struct {
	history  map[string][]model.ChatMessage
	sent     []string
	active   map[string]bool
	cleared  []string
	executor string
}

func newFakeChat() *fakeChat {
	return &fakeChat{history: map[string][]model.ChatMessage{}, active: map[string]bool{}}
}

func (f *fakeChat) Send(_ context.Context, key, q, executor string) error {
	if !model.ValidContextKey(key) || q == "" {
		return fmt.Errorf("%w: bad input", domain.ErrInvalidArgument)
	}
	f.sent = append(f.sent, q)
	f.executor = executor
	f.active[key] = true
	f.history[key] = append(f.history[key], model.ChatMessage{Role: model.RoleUser, Content: q})
	return nil
}

func (f *fakeChat) History(key string) []model.ChatMessage { return f.history[key] }
func (f *fakeChat) Clear(key string)                       { f.cleared = append(f.cleared, key) }
func (f *fakeChat) Cancel(key string) bool {
	was := f.active[key]
	delete(f.active, key)
	return was
}
func (f *fakeChat) Close() {}

type fakeCatalog struct{ docs json.RawMessage }

func (c *fakeCatalog) Documents(context.Context) (json.RawMessage, error) {
	if c.docs == nil {
		return nil, domain.ErrNotFound
	}
	return c.docs, nil
}

func (c *fakeCatalog) Members(_ context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`["` + id + `-member"]`), nil
}

const key = "secret"

func newRouter() (http.Handler, *fakeJobs, *fakeChat, *fakeCatalog) {
	jobs, chat, cat := &fakeJobs{}, newFakeChat(), &fakeCatalog{}
	return api.NewServer(jobs, chat, cat, key, nil).Router(), jobs, chat, cat
}

func do(h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	if auth {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

//
// -------------------- tests --------------------
//

func TestHealthAndMetricsAreOpen(t *testing.T) {
	r, _, _, _ := newRouter()

	if rec := do(r, http.MethodGet, "/health", "", false); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
	rec := do(r, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("trace id header missing")
	}
}

func TestAuthGuard(t *testing.T) {
	r, _, _, _ := newRouter()

	t.Run("missing header is 401", func(t *testing.T) {
		if rec := do(r, http.MethodGet, "/api/v1/jobs", "", false); rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})
	t.Run("wrong key is 403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("want 403, got %d", rec.Code)
		}
	})
	t.Run("malformed header is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.Header.Set("Authorization", key)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})
	t.Run("unconfigured key locks the api", func(t *testing.T) {
		h := api.NewServer(&fakeJobs{}, newFakeChat(), nil, "", nil).Router()
		if rec := do(h, http.MethodGet, "/api/v1/jobs", "", true); rec.Code != http.StatusForbidden {
			t.Fatalf("want 403, got %d", rec.Code)
		}
	})
}

func TestJobsEndpoints(t *testing.T) {
	r, jobs, _, _ := newRouter()

	t.Run("empty list returns 200 and empty items", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/api/v1/jobs", "", true)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var body struct {
			Items []model.Job `json:"items"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Items) != 0 {
			t.Fatalf("want empty list, got %d", len(body.Items))
		}
	})

	t.Run("create returns 201 and the job", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/api/v1/jobs", `{"name":"Scan","topic":"lithium","workspace_id":"ws-1"}`, true)
		if rec.Code != http.StatusCreated {
			t.Fatalf("want 201, got %d body=%s", rec.Code, rec.Body.String())
		}
		var job model.Job
		_ = json.NewDecoder(rec.Body).Decode(&job)
		if job.ID != 1 || job.Name != "Scan" || job.Status != model.JobStatusRunning {
			t.Fatalf("job = %+v", job)
		}
		if jobs.lastParam.Topic != "lithium" || jobs.lastParam.WorkspaceID != "ws-1" {
			t.Fatalf("params = %+v", jobs.lastParam)
		}
	})

	t.Run("get by id", func(t *testing.T) {
		if rec := do(r, http.MethodGet, "/api/v1/jobs/1", "", true); rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if rec := do(r, http.MethodGet, "/api/v1/jobs/99", "", true); rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
		if rec := do(r, http.MethodGet, "/api/v1/jobs/abc", "", true); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("bad body is 400", func(t *testing.T) {
		if rec := do(r, http.MethodPost, "/api/v1/jobs", `{`, true); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("invalid argument maps to 400", func(t *testing.T) {
		jobs.startErr = fmt.Errorf("%w: topic is required", domain.ErrInvalidArgument)
		defer func() { jobs.startErr = nil }()
		if rec := do(r, http.MethodPost, "/api/v1/jobs", `{}`, true); rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("remote failure maps to 502", func(t *testing.T) {
		jobs.startErr = fmt.Errorf("submit research: %w", &domain.HTTPError{Status: 500, Endpoint: "/workflows/execute-async"})
		defer func() { jobs.startErr = nil }()
		if rec := do(r, http.MethodPost, "/api/v1/jobs", `{"topic":"x"}`, true); rec.Code != http.StatusBadGateway {
			t.Fatalf("want 502, got %d", rec.Code)
		}
	})

	t.Run("unexpected error maps to 500", func(t *testing.T) {
		jobs.startErr = errors.New("boom")
		defer func() { jobs.startErr = nil }()
		if rec := do(r, http.MethodPost, "/api/v1/jobs", `{"topic":"x"}`, true); rec.Code != http.StatusInternalServerError {
			t.Fatalf("want 500, got %d", rec.Code)
		}
	})
}

func TestChatEndpoints(t *testing.T) {
	r, _, chat, _ := newRouter()

	rec := do(r, http.MethodPost, "/api/v1/chat/doc:42", `{"question":"why?","executor":"qa_agent"}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send: want 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(chat.sent) != 1 || chat.executor != "qa_agent" {
		t.Fatalf("sent=%v executor=%q", chat.sent, chat.executor)
	}

	rec = do(r, http.MethodGet, "/api/v1/chat/doc:42", "", true)
	var body struct {
		Items []model.ChatMessage `json:"items"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Items) != 1 || body.Items[0].Content != "why?" {
		t.Fatalf("history = %+v", body.Items)
	}

	rec = do(r, http.MethodGet, "/api/v1/chat/ws:none", "", true)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"items":[]`)) {
		t.Fatalf("empty history = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(r, http.MethodPost, "/api/v1/chat/doc:42/cancel", "", true)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"cancelled":true`)) {
		t.Fatalf("cancel = %d %s", rec.Code, rec.Body.String())
	}

	if rec = do(r, http.MethodDelete, "/api/v1/chat/doc:42", "", true); rec.Code != http.StatusNoContent {
		t.Fatalf("clear: want 204, got %d", rec.Code)
	}
	if len(chat.cleared) != 1 || chat.cleared[0] != "doc:42" {
		t.Fatalf("cleared = %v", chat.cleared)
	}

	if rec = do(r, http.MethodPost, "/api/v1/chat/bogus", `{"question":"q"}`, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad key: want 400, got %d", rec.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	r, _, _, cat := newRouter()

	if rec := do(r, http.MethodGet, "/api/v1/catalog/documents", "", true); rec.Code != http.StatusNotFound {
		t.Fatalf("uncached: want 404, got %d", rec.Code)
	}
	cat.docs = json.RawMessage(`[{"id":"d1"}]`)
	rec := do(r, http.MethodGet, "/api/v1/catalog/documents", "", true)
	if rec.Code != http.StatusOK || rec.Body.String() != `[{"id":"d1"}]` {
		t.Fatalf("docs = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(r, http.MethodGet, "/api/v1/catalog/workspaces/ws-1/members", "", true)
	if rec.Code != http.StatusOK || rec.Body.String() != `["ws-1-member"]` {
		t.Fatalf("members = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRecoverReturns500(t *testing.T) {
	h := api.Recover(logging.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

func TestTraceIDReusesIncomingHeader(t *testing.T) {
	r, _, _, _ := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}
