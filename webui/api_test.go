package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/db"
	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
	"github.com/jacobedelsonuw/visionboard-ai/metrics"
)

type fakeQueue struct {
	mu      sync.Mutex
	prompts []string
	err     error
	active  bool
}

func (q *fakeQueue) Enqueue(prompt string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	q.prompts = append(q.prompts, prompt)
	return len(q.prompts) - 1, nil
}

func (q *fakeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.prompts)
}

func (q *fakeQueue) Active() bool { return q.active }

// fakePreparer treats anything starting with "um" as incoherent.
type fakePreparer struct {
	history []string
}

func (p *fakePreparer) Prepare(text string, history []string) (string, bool) {
	p.history = history
	if strings.HasPrefix(text, "um") {
		return "variation of a quiet harbor", true
	}
	return text, false
}

type fakeRecent []string

func (r fakeRecent) Recent(n int) []string { return r }

type fakeHistory struct {
	runs   []db.RunRecord
	images map[string][]db.ImageRecord
	err    error
	limit  int
}

func (h *fakeHistory) RecentRuns(_ context.Context, limit int) ([]db.RunRecord, error) {
	h.limit = limit
	return h.runs, h.err
}

func (h *fakeHistory) ImagesForSlot(_ context.Context, slot string) ([]db.ImageRecord, error) {
	return h.images[slot], nil
}

type fakeEnhancer struct {
	mu      sync.Mutex
	prompts []string
}

func (e *fakeEnhancer) EnhanceInBackground(_ context.Context, prompt string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prompts = append(e.prompts, prompt)
	return true
}

var testBackends = []string{"REPLICATE", "LOCAL_SD", "OPENAI"}

func newTestPriority(t *testing.T) *imagegen.ServicePriority {
	t.Helper()
	p, err := imagegen.NewServicePriority([]string{"REPLICATE", "LOCAL_SD"}, testBackends)
	if err != nil {
		t.Fatalf("NewServicePriority() error = %v", err)
	}
	return p
}

func newTestAPI(t *testing.T, mutate func(*APIConfig)) (*API, *fakeQueue) {
	t.Helper()
	q := &fakeQueue{}
	cfg := APIConfig{
		Queue:    q,
		Preparer: &fakePreparer{},
		Priority: newTestPriority(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	api, err := NewAPI(cfg)
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	return api, q
}

func doRequest(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestNewAPI_RequiresDependencies(t *testing.T) {
	p := newTestPriority(t)
	tests := []struct {
		name string
		cfg  APIConfig
	}{
		{"no queue", APIConfig{Preparer: &fakePreparer{}, Priority: p}},
		{"no preparer", APIConfig{Queue: &fakeQueue{}, Priority: p}},
		{"no priority", APIConfig{Queue: &fakeQueue{}, Preparer: &fakePreparer{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAPI(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandlePrompts(t *testing.T) {
	var broadcast []WSMessage
	enh := &fakeEnhancer{}
	prep := &fakePreparer{}
	api, q := newTestAPI(t, func(c *APIConfig) {
		c.Preparer = prep
		c.Recent = fakeRecent{"a quiet harbor"}
		c.Enhancer = enh
		c.Broadcast = func(m WSMessage) { broadcast = append(broadcast, m) }
	})

	rec := doRequest(api.HandlePrompts, http.MethodPost, "/api/prompts", `{"prompt":"  a red fox in snow  "}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[PromptResponse](t, rec)
	if resp.Prompt != "a red fox in snow" || resp.Position != 0 || resp.Replaced {
		t.Errorf("response = %+v", resp)
	}

	rec = doRequest(api.HandlePrompts, http.MethodPost, "/api/prompts", `{"prompt":"um uh"}`)
	resp = decode[PromptResponse](t, rec)
	if !resp.Replaced || resp.Prompt != "variation of a quiet harbor" || resp.Position != 1 {
		t.Errorf("fallback response = %+v", resp)
	}
	if len(prep.history) != 1 || prep.history[0] != "a quiet harbor" {
		t.Errorf("preparer history = %v", prep.history)
	}

	if len(q.prompts) != 2 {
		t.Errorf("queued %d prompts, want 2", len(q.prompts))
	}
	if len(enh.prompts) != 2 {
		t.Errorf("background enhancement requested %d times, want 2", len(enh.prompts))
	}
	if len(broadcast) != 2 || broadcast[1].Type != MessageTypePromptQueued {
		t.Fatalf("broadcast = %+v", broadcast)
	}
	if data := broadcast[1].Data.(QueuedData); !data.Replaced {
		t.Errorf("queued message = %+v", data)
	}
}

func TestHandlePrompts_Errors(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		queueErr error
		want     int
	}{
		{"wrong method", http.MethodGet, "", nil, http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", nil, http.StatusBadRequest},
		{"empty prompt", http.MethodPost, `{"prompt":"   "}`, nil, http.StatusBadRequest},
		{"too long", http.MethodPost, `{"prompt":"` + strings.Repeat("x", 50) + `"}`, nil, http.StatusRequestEntityTooLarge},
		{"queue stopped", http.MethodPost, `{"prompt":"a red fox"}`, imagegen.ErrQueueStopped, http.StatusServiceUnavailable},
		{"queue rejects", http.MethodPost, `{"prompt":"a red fox"}`, errors.New("nope"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, q := newTestAPI(t, func(c *APIConfig) { c.MaxPrompt = 40 })
			q.err = tt.queueErr
			rec := doRequest(api.HandlePrompts, tt.method, "/api/prompts", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Error == "" {
				t.Error("missing error text")
			}
		})
	}
}

func TestHandlePriority(t *testing.T) {
	api, _ := newTestAPI(t, nil)

	rec := doRequest(api.HandlePriority, http.MethodGet, "/api/priority", "")
	if got := decode[PriorityResponse](t, rec).Order; strings.Join(got, ",") != "REPLICATE,LOCAL_SD" {
		t.Errorf("GET order = %v", got)
	}

	rec = doRequest(api.HandlePriority, http.MethodPut, "/api/priority", `{"order":["openai","LOCAL_SD","REPLICATE"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[PriorityResponse](t, rec).Order; strings.Join(got, ",") != "OPENAI,LOCAL_SD,REPLICATE" {
		t.Errorf("PUT order = %v", got)
	}

	rec = doRequest(api.HandlePriority, http.MethodPut, "/api/priority", `{"order":["MIDJOURNEY"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown backend status = %d, want 400", rec.Code)
	}
	rec = doRequest(api.HandlePriority, http.MethodGet, "/api/priority", "")
	if got := decode[PriorityResponse](t, rec).Order; got[0] != "OPENAI" {
		t.Errorf("rejected PUT changed the order to %v", got)
	}

	rec = doRequest(api.HandlePriority, http.MethodDelete, "/api/priority", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d", rec.Code)
	}
}

func TestHandlePrioritySwap(t *testing.T) {
	api, _ := newTestAPI(t, nil)

	rec := doRequest(api.HandlePrioritySwap, http.MethodPost, "/api/priority/swap", `{"i":0,"j":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[PriorityResponse](t, rec).Order; strings.Join(got, ",") != "LOCAL_SD,REPLICATE" {
		t.Errorf("order = %v", got)
	}

	rec = doRequest(api.HandlePrioritySwap, http.MethodPost, "/api/priority/swap", `{"i":0,"j":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out of range status = %d, want 400", rec.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	created := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	hist := &fakeHistory{
		runs: []db.RunRecord{{ID: 1, SlotID: "s1", Prompt: "a fox", Status: db.StatusCompleted, CreatedAt: created, ImageCount: 2}},
		images: map[string][]db.ImageRecord{
			"s1": {{ID: 1, SlotID: "s1", Quality: "LOW"}, {ID: 2, SlotID: "s1", Quality: "HIGH", IsUpgrade: true}},
		},
	}
	api, _ := newTestAPI(t, func(c *APIConfig) {
		c.History = hist
		c.HistoryMax = 50
	})

	rec := doRequest(api.HandleHistory, http.MethodGet, "/api/history?limit=500", "")
	resp := decode[HistoryResponse](t, rec)
	if resp.Count != 1 || resp.Limit != 50 || hist.limit != 50 {
		t.Errorf("response count=%d limit=%d, repository limit=%d", resp.Count, resp.Limit, hist.limit)
	}
	if len(resp.Runs[0].Images) != 0 {
		t.Error("images included without include=images")
	}

	rec = doRequest(api.HandleHistory, http.MethodGet, "/api/history?include=images", "")
	resp = decode[HistoryResponse](t, rec)
	if len(resp.Runs[0].Images) != 2 || resp.Runs[0].SlotID != "s1" {
		t.Errorf("runs = %+v", resp.Runs)
	}

	rec = doRequest(api.HandleHistory, http.MethodGet, "/api/history?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	hist.err = errors.New("disk full")
	rec = doRequest(api.HandleHistory, http.MethodGet, "/api/history", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("repository error status = %d", rec.Code)
	}
}

func TestHandleHistory_Disabled(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	rec := doRequest(api.HandleHistory, http.MethodGet, "/api/history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	store := metrics.NewStore(10, time.Now())
	store.RecordAttempt(metrics.AttemptRecord{Backend: "REPLICATE", Quality: "LOW", Outcome: metrics.OutcomeSuccess, Duration: time.Second})
	store.RecordAttempt(metrics.AttemptRecord{Backend: "REPLICATE", Quality: "LOW", Outcome: metrics.OutcomeTransient})
	api, _ := newTestAPI(t, func(c *APIConfig) { c.Metrics = store })

	rec := doRequest(api.HandleMetrics, http.MethodGet, "/api/metrics?recent=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snap := decode[metrics.Snapshot](t, rec)
	if snap.Total != 2 || len(snap.Recent) != 1 {
		t.Errorf("snapshot total=%d recent=%d", snap.Total, len(snap.Recent))
	}
	if stats := snap.ByBackend["REPLICATE"]; stats == nil || stats.Successes != 1 {
		t.Errorf("REPLICATE stats = %+v", stats)
	}
}

func TestHandleHealth(t *testing.T) {
	api, q := newTestAPI(t, func(c *APIConfig) {
		c.StartTime = time.Now().Add(-90 * time.Minute)
		c.Version = "1.2.3"
	})
	q.active = true
	q.Enqueue("a fox")

	rec := doRequest(api.HandleHealth, http.MethodGet, "/health", "")
	resp := decode[HealthResponse](t, rec)
	if resp.Status != "ok" || resp.Version != "1.2.3" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Uptime != "1h 30m" {
		t.Errorf("Uptime = %q, want 1h 30m", resp.Uptime)
	}
	if resp.Pending != 1 || !resp.Active || len(resp.Priority) != 2 {
		t.Errorf("queue state = %+v", resp)
	}
}
