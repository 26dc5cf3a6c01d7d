package prompt

import (
	"fmt"
	"sync"
	"testing"
)

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Add(fmt.Sprintf("prompt %d", i))
	}
	h.Add("   ")

	if h.Len() != 3 {
		t.Fatalf("Len = %d, want 3", h.Len())
	}
	got := h.Recent(0)
	want := []string{"prompt 3", "prompt 4", "prompt 5"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Recent[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	last := h.Recent(1)
	if len(last) != 1 || last[0] != "prompt 5" {
		t.Errorf("Recent(1) = %v", last)
	}

	last[0] = "mutated"
	if h.Recent(1)[0] != "prompt 5" {
		t.Error("Recent returned shared storage")
	}
}

func TestHistoryConcurrent(t *testing.T) {
	h := NewHistory(10)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Add(fmt.Sprintf("p%d-%d", n, j))
				_ = h.Recent(5)
			}
		}(i)
	}
	wg.Wait()
	if h.Len() != 10 {
		t.Errorf("Len = %d, want 10", h.Len())
	}
}
