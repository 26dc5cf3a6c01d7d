package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jacobedelsonuw/visionboard-ai/core"
)

// ReplicateBackend creates predictions on the hosted prediction API. It is
// asynchronous: Generate returns a job handle which the selector resolves
// through JobStatus.
type ReplicateBackend struct {
	client   *http.Client
	baseURL  string
	token    string
	version  string
	enabled  bool
	rewriter func(string) string
}

// ReplicateOption configures a ReplicateBackend.
type ReplicateOption func(*ReplicateBackend)

// WithReplicateRewriter sets the prompt rewrite used for the single retry
// after a safety rejection.
func WithReplicateRewriter(fn func(string) string) ReplicateOption {
	return func(b *ReplicateBackend) { b.rewriter = fn }
}

// NewReplicateBackend creates the adapter. A missing token is not an error
// here; Generate reports it as a ConfigurationError so the selector can
// surface it and move on.
func NewReplicateBackend(cfg *core.Config, client *http.Client, opts ...ReplicateOption) (*ReplicateBackend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	if client == nil {
		client = core.GetHTTPClient(cfg, cfg.HTTPTimeout)
	}
	b := &ReplicateBackend{
		client:  client,
		baseURL: strings.TrimRight(cfg.ReplicateBaseURL, "/"),
		token:   cfg.ReplicateAPIToken,
		version: modelVersionID(cfg.ReplicateModelVersion),
		enabled: cfg.BackendEnabled(core.BackendReplicate),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// modelVersionID strips an "owner/model:" prefix, leaving the version hash.
func modelVersionID(v string) string {
	if idx := strings.LastIndex(v, ":"); idx >= 0 {
		return v[idx+1:]
	}
	return v
}

func (b *ReplicateBackend) Name() string  { return core.BackendReplicate }
func (b *ReplicateBackend) Enabled() bool { return b.enabled }

// RetryPrompt implements PromptRetrier.
func (b *ReplicateBackend) RetryPrompt(prompt string) string {
	if b.rewriter == nil {
		return prompt
	}
	return b.rewriter(prompt)
}

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  interface{}     `json:"error"`
	Detail string          `json:"detail"`
}

// Generate creates a prediction and returns its job handle.
func (b *ReplicateBackend) Generate(ctx context.Context, prompt string, profile Profile) (*ImageHandle, error) {
	if err := b.checkCredentials(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(predictionRequest{
		Version: b.version,
		Input: predictionInput{
			Prompt:            prompt,
			Width:             profile.Width,
			Height:            profile.Height,
			NumInferenceSteps: profile.Steps,
			GuidanceScale:     profile.Guidance,
		},
	})
	if err != nil {
		return nil, NewTransientError(b.Name(), "failed to encode prediction", err)
	}

	var pred prediction
	if err := b.do(ctx, http.MethodPost, b.baseURL+"/v1/predictions", body, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, NewTransientError(b.Name(), "prediction response carried no id", nil)
	}
	if pred.Status == StatusFailed {
		msg := errorText(pred.Error)
		if IsContentPolicyMessage(msg) {
			return nil, NewRejectedError(b.Name(), msg)
		}
		return nil, NewTransientError(b.Name(), "prediction failed on creation: "+msg, nil)
	}
	return &ImageHandle{JobID: pred.ID}, nil
}

// JobStatus implements AsyncBackend.
func (b *ReplicateBackend) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	if err := b.checkCredentials(); err != nil {
		return JobStatus{}, err
	}
	var pred prediction
	if err := b.do(ctx, http.MethodGet, b.baseURL+"/v1/predictions/"+url.PathEscape(jobID), nil, &pred); err != nil {
		return JobStatus{}, err
	}
	return JobStatus{
		Status: pred.Status,
		Output: outputURLs(pred.Output),
		Error:  errorText(pred.Error),
	}, nil
}

func (b *ReplicateBackend) checkCredentials() error {
	if core.IsPlaceholderCredential(b.token) {
		cfgErr := core.ErrMissingAuth(core.BackendReplicate)
		if b.token != "" {
			cfgErr = core.ErrPlaceholderCredential(core.BackendReplicate)
		}
		return NewConfigurationError(b.Name(), cfgErr.Message, cfgErr.Action)
	}
	return nil
}

func (b *ReplicateBackend) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return NewTransientError(b.Name(), "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return NewTransientError(b.Name(), "prediction API unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewTransientError(b.Name(), "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return b.classifyStatus(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewTransientError(b.Name(), "malformed prediction response", err)
	}
	return nil
}

func (b *ReplicateBackend) classifyStatus(code int, raw []byte) error {
	var pred prediction
	_ = json.Unmarshal(raw, &pred)
	detail := pred.Detail
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	cause := fmt.Errorf("status %d: %s", code, detail)

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return NewConfigurationError(b.Name(), "prediction API rejected the token", "Check REPLICATE_API_TOKEN")
	case code == http.StatusTooManyRequests:
		return NewRateLimitedError(b.Name(), cause)
	case code == http.StatusPaymentRequired:
		return NewQuotaExceededError(b.Name(), cause)
	case IsContentPolicyMessage(detail):
		return NewRejectedError(b.Name(), detail)
	default:
		return NewTransientError(b.Name(), "prediction API error", cause)
	}
}

// outputURLs accepts either a single string or an array of strings.
func outputURLs(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func errorText(v interface{}) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		data, _ := json.Marshal(e)
		return string(data)
	}
}

var (
	_ AsyncBackend  = (*ReplicateBackend)(nil)
	_ PromptRetrier = (*ReplicateBackend)(nil)
)
