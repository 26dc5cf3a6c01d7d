package imagegen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingRunner records prompts and the peak number of concurrent runs.
type recordingRunner struct {
	hold time.Duration

	mu       sync.Mutex
	prompts  []string
	running  int
	peak     int
	results  []*RunResult
	canceled map[string]bool
}

func (r *recordingRunner) Run(ctx context.Context, prompt string) *RunResult {
	r.mu.Lock()
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()

	if r.hold > 0 {
		time.Sleep(r.hold)
	}

	done := make(chan struct{})
	res := &RunResult{SlotID: prompt, Prompt: prompt, done: done}
	res.cancel = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.canceled == nil {
			r.canceled = map[string]bool{}
		}
		r.canceled[prompt] = true
	}

	r.mu.Lock()
	r.running--
	r.results = append(r.results, res)
	r.mu.Unlock()
	return res
}

func (r *recordingRunner) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func (r *recordingRunner) Canceled(prompt string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled[prompt]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestQueue_RunsPromptsInOrder(t *testing.T) {
	runner := &recordingRunner{hold: 5 * time.Millisecond}
	q := NewQueue(runner, nil)

	for i, p := range []string{"one", "two", "three"} {
		ahead, err := q.Enqueue(p)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if ahead != i {
			t.Errorf("Enqueue(%q) ahead = %d, want %d", p, ahead, i)
		}
	}

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(runner.Prompts()) == 3 })
	got := runner.Prompts()
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Errorf("run %d = %q, want %q", i, got[i], want)
		}
	}
	runner.mu.Lock()
	peak := runner.peak
	runner.mu.Unlock()
	if peak != 1 {
		t.Errorf("peak concurrent runs = %d, want 1", peak)
	}
}

func TestQueue_RejectsEmptyPrompt(t *testing.T) {
	q := NewQueue(&recordingRunner{}, nil)
	if _, err := q.Enqueue("   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
}

func TestQueue_StopRejectsAndDrops(t *testing.T) {
	runner := &recordingRunner{}
	q := NewQueue(runner, nil)
	q.Enqueue("waiting")
	q.Stop()

	if _, err := q.Enqueue("late"); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("err = %v, want ErrQueueStopped", err)
	}
	if q.Pending() != 0 {
		t.Errorf("Pending = %d after Stop", q.Pending())
	}
	q.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	if len(runner.Prompts()) != 0 {
		t.Error("stopped queue ran prompts")
	}
}

func TestQueue_EnqueueIfIdle(t *testing.T) {
	q := NewQueue(&recordingRunner{}, nil)

	ok, err := q.EnqueueIfIdle("first", 0)
	if err != nil || !ok {
		t.Fatalf("EnqueueIfIdle on empty queue = %v, %v", ok, err)
	}
	ok, _ = q.EnqueueIfIdle("second", 0)
	if ok {
		t.Error("EnqueueIfIdle should refuse while a prompt is waiting")
	}
	ok, _ = q.EnqueueIfIdle("second", 1)
	if !ok {
		t.Error("EnqueueIfIdle should accept within maxPending")
	}
	if q.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", q.Pending())
	}
}

func TestQueue_CancelSuperseded(t *testing.T) {
	runner := &recordingRunner{}
	q := NewQueue(runner, nil, WithCancelSuperseded(true))
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue("first")
	waitFor(t, func() bool { return len(runner.Prompts()) == 1 && !q.Active() })
	q.Enqueue("second")
	waitFor(t, func() bool { return len(runner.Prompts()) == 2 })

	waitFor(t, func() bool { return runner.Canceled("first") })
	if runner.Canceled("second") {
		t.Error("latest run should not be cancelled")
	}
}

func TestQueue_KeepsSupersededByDefault(t *testing.T) {
	runner := &recordingRunner{}
	q := NewQueue(runner, nil)
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue("first")
	q.Enqueue("second")
	waitFor(t, func() bool { return len(runner.Prompts()) == 2 })
	if runner.Canceled("first") {
		t.Error("previous run cancelled without WithCancelSuperseded")
	}
}

func TestQueue_WithOrchestrator(t *testing.T) {
	log := &eventLog{}
	o := newTestOrchestrator(t, &scriptedSelector{}, log, nil)
	q := NewQueue(o, nil)
	q.Start(context.Background())

	q.Enqueue("first")
	q.Enqueue("second")
	waitFor(t, func() bool { return log.Count(EventCompleted) == 2 })
	q.Stop()

	if log.Count(EventInitial) != 2 || log.Count(EventUpgrade) != 4 {
		t.Errorf("events = %v", log.Kinds())
	}
}
