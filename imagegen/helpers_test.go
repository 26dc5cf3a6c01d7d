package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"
)

// testPNG returns a small valid PNG.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for x := 0; x < 4; x++ {
		for y := 0; y < 3; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 80), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testPNGBase64(t *testing.T) string {
	return base64.StdEncoding.EncodeToString(testPNG(t))
}

type mockResult struct {
	handle *ImageHandle
	err    error
}

// mockBackend replays results in order; the last one repeats.
type mockBackend struct {
	name     string
	disabled bool
	results  []mockResult

	mu      sync.Mutex
	calls   int
	prompts []string
}

func newMockBackend(name string, results ...mockResult) *mockBackend {
	return &mockBackend{name: name, results: results}
}

func (m *mockBackend) Name() string  { return m.name }
func (m *mockBackend) Enabled() bool { return !m.disabled }

func (m *mockBackend) Generate(ctx context.Context, prompt string, profile Profile) (*ImageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if len(m.results) == 0 {
		return &ImageHandle{URL: "https://images.test/" + m.name + ".png"}, nil
	}
	idx := m.calls - 1
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	r := m.results[idx]
	return r.handle, r.err
}

func (m *mockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockBackend) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// retryingBackend adds a prompt rewrite to mockBackend.
type retryingBackend struct {
	*mockBackend
	rewrite func(string) string
}

func (r *retryingBackend) RetryPrompt(prompt string) string {
	return r.rewrite(prompt)
}

func ok(name string) mockResult {
	return mockResult{handle: &ImageHandle{URL: "https://images.test/" + name + ".png"}}
}

func fail(err error) mockResult {
	return mockResult{err: err}
}

// eventLog records published events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) Kinds() []EventKind {
	var kinds []EventKind
	for _, e := range l.Events() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (l *eventLog) Count(kind EventKind) int {
	n := 0
	for _, e := range l.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
}

func fastPolicies() PollPolicies {
	p := PollPolicy{Interval: time.Millisecond, Ceiling: 50 * time.Millisecond, StuckLimit: 3, ErrorBackoffFactor: 2, LogEvery: 5}
	return PollPolicies{Preview: p, Standard: p}
}

func testProfiles(names ...string) ProfileTable {
	table := ProfileTable{}
	for _, n := range names {
		table[n] = map[Quality]Profile{}
		for q := QualityLow; q <= QualityEnhancedHigh; q++ {
			table[n][q] = Profile{Quality: q, Width: 64, Height: 64, Steps: 2, Guidance: 1}
		}
	}
	return table
}
