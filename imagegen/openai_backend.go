package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jacobedelsonuw/visionboard-ai/core"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend generates images through the hosted, policy-moderated image
// API. It is synchronous and returns URL handles.
type OpenAIBackend struct {
	client          *openai.Client
	apiKey          string
	model           string
	maxPromptLength int
	enabled         bool
	rewriter        func(string) string
}

// OpenAIOption configures an OpenAIBackend.
type OpenAIOption func(*OpenAIBackend)

// WithOpenAIRewriter sets the prompt rewrite used for the single retry after
// a content policy rejection.
func WithOpenAIRewriter(fn func(string) string) OpenAIOption {
	return func(b *OpenAIBackend) { b.rewriter = fn }
}

// NewOpenAIBackend creates the adapter. httpClient may be nil.
func NewOpenAIBackend(cfg *core.Config, httpClient *http.Client, opts ...OpenAIOption) (*OpenAIBackend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	if httpClient == nil {
		httpClient = core.GetHTTPClient(cfg, cfg.HTTPTimeout)
	}
	clientConfig.HTTPClient = httpClient

	model := cfg.OpenAIImageModel
	if model == "" {
		model = openai.CreateImageModelDallE3
	}

	b := &OpenAIBackend{
		client:          openai.NewClientWithConfig(clientConfig),
		apiKey:          cfg.OpenAIAPIKey,
		model:           model,
		maxPromptLength: cfg.OpenAIMaxPromptLength,
		enabled:         cfg.BackendEnabled(core.BackendOpenAI),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *OpenAIBackend) Name() string  { return core.BackendOpenAI }
func (b *OpenAIBackend) Enabled() bool { return b.enabled }

// RetryPrompt implements PromptRetrier.
func (b *OpenAIBackend) RetryPrompt(prompt string) string {
	if b.rewriter == nil {
		return prompt
	}
	return b.rewriter(prompt)
}

// Generate requests one image. Prompts longer than the configured limit are
// truncated silently.
func (b *OpenAIBackend) Generate(ctx context.Context, prompt string, profile Profile) (*ImageHandle, error) {
	if core.IsPlaceholderCredential(b.apiKey) {
		cfgErr := core.ErrMissingAuth(core.BackendOpenAI)
		if b.apiKey != "" {
			cfgErr = core.ErrPlaceholderCredential(core.BackendOpenAI)
		}
		return nil, NewConfigurationError(b.Name(), cfgErr.Message, cfgErr.Action)
	}

	size := profile.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	req := openai.ImageRequest{
		Prompt:         truncateRunes(prompt, b.maxPromptLength),
		Model:          b.model,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	}
	// quality and style are only accepted by dall-e-3
	if b.model == openai.CreateImageModelDallE3 {
		req.Quality = profile.ImageQuality
		req.Style = profile.Style
		if req.Style == "" {
			req.Style = openai.CreateImageStyleVivid
		}
	}

	resp, err := b.client.CreateImage(ctx, req)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Data) == 0 {
		return nil, NewTransientError(b.Name(), "image response contained no data", nil)
	}

	item := resp.Data[0]
	if item.URL != "" {
		handle, err := NewURLHandle(item.URL)
		if err != nil {
			return nil, NewTransientError(b.Name(), "image response URL is unusable", err)
		}
		return handle, nil
	}
	if item.B64JSON != "" {
		data, err := decodeBase64Image(item.B64JSON)
		if err != nil {
			return nil, NewTransientError(b.Name(), "image response is not valid base64", err)
		}
		handle, err := NewInlineHandle(data)
		if err != nil {
			return nil, NewTransientError(b.Name(), "image response is not a usable image", err)
		}
		return handle, nil
	}
	return nil, NewTransientError(b.Name(), "image response contained no URL", nil)
}

func (b *OpenAIBackend) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		switch {
		case apiErr.Type == "image_generation_user_error" || code == "content_policy_violation":
			return NewRejectedError(b.Name(), apiErr.Message)
		case code == "insufficient_quota" || apiErr.Type == "insufficient_quota":
			return NewQuotaExceededError(b.Name(), err)
		case code == "rate_limit_exceeded" || apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return NewRateLimitedError(b.Name(), err)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return NewConfigurationError(b.Name(), "image API rejected the key", "Check OPENAI_API_KEY")
		}
		return NewTransientError(b.Name(), "image API error", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return NewRateLimitedError(b.Name(), err)
		case http.StatusUnauthorized:
			return NewConfigurationError(b.Name(), "image API rejected the key", "Check OPENAI_API_KEY")
		}
	}
	return NewTransientError(b.Name(), "image request failed", err)
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

var (
	_ Backend       = (*OpenAIBackend)(nil)
	_ PromptRetrier = (*OpenAIBackend)(nil)
)
