// Package llm talks to a local language model through its OpenAI-compatible
// chat endpoint. It is used to enrich prompts, extract search keywords and
// propose prompts that complement the board. Every call has a fallback and
// no failure here is fatal to generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/core"
	"github.com/jacobedelsonuw/visionboard-ai/logging"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrUnusableReply is returned when the model answered with something that
// cannot be used as a prompt.
var ErrUnusableReply = errors.New("llm: reply is not a usable prompt")

const (
	enhanceInstruction = "You are an expert at creating detailed, artistic image generation prompts. " +
		"Reply with the improved prompt only."
	keywordInstruction = "Extract the most important nouns and adjectives from the text to use as search keywords. " +
		"Return a short, comma-separated list of 3-5 keywords with no introductory text."
	contextualInstruction = "You suggest prompts for a mood board of generated images. " +
		"Reply with one new artistic, descriptive prompt and nothing else."

	minPromptWords = 3
	fallbackWords  = 5
)

// Client wraps a go-openai client pointed at the local model server.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger

	mu        sync.Mutex
	available *bool
}

// NewClient creates a Client for cfg.OllamaURL. httpClient may be nil.
func NewClient(cfg *core.Config, httpClient *http.Client, logger *logging.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm: config cannot be nil")
	}
	if cfg.OllamaURL == "" {
		return nil, fmt.Errorf("llm: OLLAMA_URL is empty")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if httpClient == nil {
		httpClient = core.GetHTTPClient(cfg, cfg.OllamaTimeout)
	}

	// the local server ignores the key but the client requires one
	clientConfig := openai.DefaultConfig("ollama")
	clientConfig.BaseURL = strings.TrimRight(cfg.OllamaURL, "/")
	clientConfig.HTTPClient = httpClient

	timeout := cfg.OllamaTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		api:     openai.NewClientWithConfig(clientConfig),
		model:   cfg.OllamaModel,
		timeout: timeout,
		logger:  logger.Named("llm"),
	}, nil
}

// Available reports whether the model server answers a model listing. The
// result of the first successful or failed check is cached; Refresh clears it.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	if c.available != nil {
		ok := *c.available
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.api.ListModels(ctx)
	ok := err == nil
	if ok {
		names := make([]string, 0, len(list.Models))
		for _, m := range list.Models {
			names = append(names, m.ID)
		}
		c.logger.Info("language model server available", zap.Strings("models", names))
	} else {
		c.logger.Info("language model server not available, using fallbacks", zap.Error(err))
	}

	c.mu.Lock()
	c.available = &ok
	c.mu.Unlock()
	return ok
}

// Refresh forgets the cached availability.
func (c *Client) Refresh() {
	c.mu.Lock()
	c.available = nil
	c.mu.Unlock()
}

// Enhance rewrites prompt into a richer image prompt. Replies shorter than
// three words are rejected with ErrUnusableReply.
func (c *Client) Enhance(ctx context.Context, prompt string) (string, error) {
	user := fmt.Sprintf("Enhance this prompt to be more detailed and visually rich: %q. "+
		"Focus on artistic elements, composition, lighting, and mood.", prompt)
	reply, err := c.chat(ctx, enhanceInstruction, user, 120)
	if err != nil {
		return "", err
	}
	return usablePrompt(reply)
}

// SuggestContextual proposes a prompt that complements recent.
func (c *Client) SuggestContextual(ctx context.Context, recent []string) (string, error) {
	if len(recent) == 0 {
		return "", fmt.Errorf("llm: no recent prompts to build on")
	}
	user := fmt.Sprintf("Based on these recent image prompts: %q, generate a new creative prompt that would complement them.",
		strings.Join(recent, ", "))
	reply, err := c.chat(ctx, contextualInstruction, user, 80)
	if err != nil {
		return "", err
	}
	return usablePrompt(reply)
}

// ExtractKeywords returns a comma-separated keyword list for text. When the
// model is unreachable it falls back to the first five words; when the
// model answers badly it returns text unchanged.
func (c *Client) ExtractKeywords(ctx context.Context, text string) string {
	if !c.Available(ctx) {
		return FallbackKeywords(text)
	}
	reply, err := c.chat(ctx, keywordInstruction, fmt.Sprintf("Text: %q", text), 40)
	if err != nil {
		c.logger.Warn("keyword extraction failed", zap.Error(err))
		return text
	}
	return strings.TrimSpace(reply)
}

// FallbackKeywords joins the first five words of text with commas.
func FallbackKeywords(text string) string {
	words := strings.Fields(text)
	if len(words) > fallbackWords {
		words = words[:fallbackWords]
	}
	return strings.Join(words, ",")
}

func (c *Client) chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// usablePrompt strips labels and quotes from a model reply.
func usablePrompt(reply string) (string, error) {
	text := strings.TrimSpace(reply)
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}
	for _, label := range []string{"prompt:", "enhanced prompt:", "new prompt:"} {
		if strings.HasPrefix(strings.ToLower(text), label) {
			text = strings.TrimSpace(text[len(label):])
		}
	}
	text = strings.Trim(text, "\"'` ")
	if len(strings.Fields(text)) < minPromptWords {
		return "", fmt.Errorf("%w: %q", ErrUnusableReply, text)
	}
	return text, nil
}
