package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/db"
	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
	"github.com/jacobedelsonuw/visionboard-ai/logging"
	"github.com/jacobedelsonuw/visionboard-ai/metrics"

	"go.uber.org/zap"
)

// PromptQueue accepts prompts for generation. *imagegen.Queue implements it.
type PromptQueue interface {
	Enqueue(prompt string) (int, error)
	Pending() int
	Active() bool
}

// PromptPreparer replaces incoherent input. *prompt.Sanitizer implements it.
type PromptPreparer interface {
	Prepare(text string, history []string) (string, bool)
}

// RecentPrompts supplies context for fallback prompts.
type RecentPrompts interface {
	Recent(n int) []string
}

// PriorityStore is the live backend order. *imagegen.ServicePriority
// implements it.
type PriorityStore interface {
	Snapshot() []string
	Set(order []string) error
	Swap(i, j int) error
}

// HistoryStore reads persisted runs. *db.Repository implements it.
type HistoryStore interface {
	RecentRuns(ctx context.Context, limit int) ([]db.RunRecord, error)
	ImagesForSlot(ctx context.Context, slotID string) ([]db.ImageRecord, error)
}

// MetricsSource exposes attempt statistics. *metrics.Store implements it.
type MetricsSource interface {
	Snapshot(recentLimit int) metrics.Snapshot
}

// BackgroundEnhancer renders an LLM-enriched variant of a prompt.
type BackgroundEnhancer interface {
	EnhanceInBackground(ctx context.Context, prompt string) bool
}

// APIConfig wires the REST handlers. Queue, Preparer and Priority are
// required; the rest disable their endpoint or feature when nil.
type APIConfig struct {
	Queue      PromptQueue
	Preparer   PromptPreparer
	Recent     RecentPrompts
	Priority   PriorityStore
	History    HistoryStore
	Metrics    MetricsSource
	Enhancer   BackgroundEnhancer
	Broadcast  func(WSMessage)
	Logger     *logging.Logger
	StartTime  time.Time
	Version    string
	MaxPrompt  int // bytes; longer submissions are rejected
	HistoryMax int
}

// API serves the board's REST endpoints.
//
// Endpoints:
//   - POST /api/prompts        queue a prompt
//   - GET|PUT /api/priority    read or replace the backend order
//   - POST /api/priority/swap  swap two positions of the order
//   - GET /api/history         recent runs, with images when include=images
//   - GET /api/metrics         backend attempt statistics
//   - GET /health              liveness and queue depth
type API struct {
	cfg    APIConfig
	logger *logging.Logger
}

// NewAPI validates cfg and creates the handlers.
func NewAPI(cfg APIConfig) (*API, error) {
	if cfg.Queue == nil {
		return nil, errors.New("webui: queue cannot be nil")
	}
	if cfg.Preparer == nil {
		return nil, errors.New("webui: prompt preparer cannot be nil")
	}
	if cfg.Priority == nil {
		return nil, errors.New("webui: priority store cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	if cfg.MaxPrompt <= 0 {
		cfg.MaxPrompt = 2000
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = 100
	}
	return &API{cfg: cfg, logger: cfg.Logger.Named("api")}, nil
}

// PromptRequest is the body of POST /api/prompts.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// PromptResponse acknowledges a queued prompt.
type PromptResponse struct {
	Prompt   string `json:"prompt"`
	Position int    `json:"position"`
	Replaced bool   `json:"replaced"`
}

// HandlePrompts handles POST /api/prompts. Incoherent text is replaced by a
// fallback built from recent prompts; Replaced tells the client so.
func (api *API) HandlePrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PromptRequest
	body := http.MaxBytesReader(w, r.Body, int64(api.cfg.MaxPrompt)+1024)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		writeError(w, http.StatusBadRequest, "prompt cannot be empty")
		return
	}
	if len(text) > api.cfg.MaxPrompt {
		writeError(w, http.StatusRequestEntityTooLarge, "prompt is too long")
		return
	}

	var recent []string
	if api.cfg.Recent != nil {
		recent = api.cfg.Recent.Recent(5)
	}
	prepared, replaced := api.cfg.Preparer.Prepare(text, recent)

	pos, err := api.cfg.Queue.Enqueue(prepared)
	if err != nil {
		if errors.Is(err, imagegen.ErrQueueStopped) {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if replaced {
		api.logger.Info("incoherent prompt replaced", zap.String("fallback", prepared))
	}
	if api.cfg.Enhancer != nil {
		api.cfg.Enhancer.EnhanceInBackground(context.WithoutCancel(r.Context()), prepared)
	}

	resp := PromptResponse{Prompt: prepared, Position: pos, Replaced: replaced}
	if api.cfg.Broadcast != nil {
		api.cfg.Broadcast(NewWSMessage(MessageTypePromptQueued, QueuedData(resp)))
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// PriorityResponse reports the current backend order.
type PriorityResponse struct {
	Order []string `json:"order"`
}

// HandlePriority handles GET and PUT /api/priority.
func (api *API) HandlePriority(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, PriorityResponse{Order: api.cfg.Priority.Snapshot()})
	case http.MethodPut:
		var req PriorityResponse
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := api.cfg.Priority.Set(req.Order); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		order := api.cfg.Priority.Snapshot()
		api.logger.Info("service priority replaced", zap.Strings("order", order))
		writeJSON(w, http.StatusOK, PriorityResponse{Order: order})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// SwapRequest names two zero-based positions.
type SwapRequest struct {
	I int `json:"i"`
	J int `json:"j"`
}

// HandlePrioritySwap handles POST /api/priority/swap.
func (api *API) HandlePrioritySwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req SwapRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := api.cfg.Priority.Swap(req.I, req.J); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order := api.cfg.Priority.Snapshot()
	api.logger.Info("service priority swapped", zap.Int("i", req.I), zap.Int("j", req.J), zap.Strings("order", order))
	writeJSON(w, http.StatusOK, PriorityResponse{Order: order})
}

// HistoryRun is one run in GET /api/history.
type HistoryRun struct {
	db.RunRecord
	Images []db.ImageRecord `json:"images,omitempty"`
}

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Runs  []HistoryRun `json:"runs"`
	Count int          `json:"count"`
	Limit int          `json:"limit"`
}

// HandleHistory handles GET /api/history.
// Query parameters:
//   - limit: number of runs (default 20, capped at HistoryMax)
//   - include=images: attach each run's images
func (api *API) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if api.cfg.History == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > api.cfg.HistoryMax {
		limit = api.cfg.HistoryMax
	}

	runs, err := api.cfg.History.RecentRuns(r.Context(), limit)
	if err != nil {
		api.logger.Error("failed to load history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	withImages := r.URL.Query().Get("include") == "images"
	out := make([]HistoryRun, 0, len(runs))
	for _, run := range runs {
		hr := HistoryRun{RunRecord: run}
		if withImages {
			imgs, err := api.cfg.History.ImagesForSlot(r.Context(), run.SlotID)
			if err != nil {
				api.logger.Error("failed to load images", zap.String("slot_id", run.SlotID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to load history")
				return
			}
			hr.Images = imgs
		}
		out = append(out, hr)
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Runs: out, Count: len(out), Limit: limit})
}

// HandleMetrics handles GET /api/metrics.
// Query parameters:
//   - recent: number of recent attempts to include (default 20)
func (api *API) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if api.cfg.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics are not enabled")
		return
	}
	recent := 20
	if s := r.URL.Query().Get("recent"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			recent = n
		}
	}
	writeJSON(w, http.StatusOK, api.cfg.Metrics.Snapshot(recent))
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version,omitempty"`
	Uptime     string   `json:"uptime"`
	UptimeSecs float64  `json:"uptime_secs"`
	Pending    int      `json:"pending"`
	Active     bool     `json:"active"`
	Priority   []string `json:"priority"`
}

// HandleHealth handles GET /health.
func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	up := time.Since(api.cfg.StartTime)
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    api.cfg.Version,
		Uptime:     FormatDuration(up),
		UptimeSecs: up.Seconds(),
		Pending:    api.cfg.Queue.Pending(),
		Active:     api.cfg.Queue.Active(),
		Priority:   api.cfg.Priority.Snapshot(),
	})
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already out; nothing useful to do with an encode error
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
