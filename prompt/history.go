package prompt

import (
	"strings"
	"sync"
)

// History is the bounded, mutex-guarded list of prompts that produced
// images, oldest first. In-flight runs append to it concurrently.
type History struct {
	mu      sync.RWMutex
	items   []string
	maxSize int
}

// NewHistory creates a History keeping at most maxSize prompts.
func NewHistory(maxSize int) *History {
	if maxSize < 1 {
		maxSize = 20
	}
	return &History{maxSize: maxSize}
}

// Add appends prompt, evicting the oldest entry when full. Blank prompts
// are ignored.
func (h *History) Add(prompt string) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, prompt)
	if over := len(h.items) - h.maxSize; over > 0 {
		h.items = append([]string(nil), h.items[over:]...)
	}
}

// Recent returns up to n prompts, oldest first.
func (h *History) Recent(n int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.items) {
		n = len(h.items)
	}
	out := make([]string, n)
	copy(out, h.items[len(h.items)-n:])
	return out
}

// Len returns the number of stored prompts.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
