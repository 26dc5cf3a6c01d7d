package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/core"
)

// fakeOllama answers the OpenAI-compatible chat and model endpoints.
type fakeOllama struct {
	reply      string
	chatStatus int
	chats      atomic.Int32
	lastUser   atomic.Value
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/models":
		io.WriteString(w, `{"object":"list","data":[{"id":"llama3.2","object":"model","owned_by":"library"}]}`)
	case "/v1/chat/completions":
		f.chats.Add(1)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			f.lastUser.Store(req.Messages[len(req.Messages)-1].Content)
		}
		if f.chatStatus != 0 {
			w.WriteHeader(f.chatStatus)
			io.WriteString(w, `{"error":{"message":"model not found","type":"api_error"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": f.reply}}},
		})
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := NewClient(&core.Config{OllamaURL: srv.URL + "/v1/", OllamaModel: "llama3.2", OllamaTimeout: 2 * time.Second}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestEnhance(t *testing.T) {
	fake := &fakeOllama{reply: "Enhanced prompt: \"a misty glass forest at dawn, volumetric light\"\nHope this helps!"}
	c := newTestClient(t, fake)

	got, err := c.Enhance(context.Background(), "glass forest")
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if got != "a misty glass forest at dawn, volumetric light" {
		t.Errorf("Enhance = %q", got)
	}
	if user, _ := fake.lastUser.Load().(string); !strings.Contains(user, "glass forest") {
		t.Errorf("user message = %q", user)
	}
}

func TestEnhanceRejectsShortReply(t *testing.T) {
	c := newTestClient(t, &fakeOllama{reply: "forest"})
	_, err := c.Enhance(context.Background(), "glass forest")
	if !errors.Is(err, ErrUnusableReply) {
		t.Errorf("err = %v, want ErrUnusableReply", err)
	}
}

func TestEnhanceServerError(t *testing.T) {
	c := newTestClient(t, &fakeOllama{chatStatus: http.StatusNotFound})
	if _, err := c.Enhance(context.Background(), "glass forest"); err == nil {
		t.Error("expected error")
	}
}

func TestSuggestContextual(t *testing.T) {
	fake := &fakeOllama{reply: "amber dunes under a violet sky"}
	c := newTestClient(t, fake)

	got, err := c.SuggestContextual(context.Background(), []string{"desert", "sunset"})
	if err != nil || got != "amber dunes under a violet sky" {
		t.Fatalf("SuggestContextual = %q, %v", got, err)
	}
	if user, _ := fake.lastUser.Load().(string); !strings.Contains(user, "desert, sunset") {
		t.Errorf("user message = %q", user)
	}
	if _, err := c.SuggestContextual(context.Background(), nil); err == nil {
		t.Error("expected error without history")
	}
}

func TestExtractKeywords(t *testing.T) {
	c := newTestClient(t, &fakeOllama{reply: " glass, forest, dawn "})
	if got := c.ExtractKeywords(context.Background(), "a glass forest at dawn"); got != "glass, forest, dawn" {
		t.Errorf("ExtractKeywords = %q", got)
	}

	failing := newTestClient(t, &fakeOllama{chatStatus: http.StatusInternalServerError})
	text := "a glass forest at dawn"
	if got := failing.ExtractKeywords(context.Background(), text); got != text {
		t.Errorf("ExtractKeywords on error = %q, want input", got)
	}
}

func TestExtractKeywordsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := NewClient(&core.Config{OllamaURL: url + "/v1", OllamaTimeout: time.Second}, nil, nil)
	if c.Available(context.Background()) {
		t.Fatal("closed server reported available")
	}
	got := c.ExtractKeywords(context.Background(), "one two three four five six seven")
	if got != "one,two,three,four,five" {
		t.Errorf("fallback keywords = %q", got)
	}
}

func TestAvailableCachedUntilRefresh(t *testing.T) {
	var lists atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lists.Add(1)
		io.WriteString(w, `{"object":"list","data":[]}`)
	}))
	defer srv.Close()

	c, _ := NewClient(&core.Config{OllamaURL: srv.URL + "/v1", OllamaTimeout: time.Second}, srv.Client(), nil)
	c.Available(context.Background())
	c.Available(context.Background())
	if lists.Load() != 1 {
		t.Errorf("model listings = %d, want 1", lists.Load())
	}
	c.Refresh()
	c.Available(context.Background())
	if lists.Load() != 2 {
		t.Errorf("model listings after Refresh = %d, want 2", lists.Load())
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, nil, nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewClient(&core.Config{}, nil, nil); err == nil {
		t.Error("empty URL accepted")
	}
}

func TestFallbackKeywords(t *testing.T) {
	if got := FallbackKeywords("  red  fox "); got != "red,fox" {
		t.Errorf("got %q", got)
	}
}
