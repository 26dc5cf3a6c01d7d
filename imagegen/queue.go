package imagegen

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"go.uber.org/zap"
)

// ErrQueueStopped is returned by Enqueue once the queue has been stopped.
var ErrQueueStopped = errors.New("imagegen: generation queue is stopped")

// ErrEmptyPrompt is returned by Enqueue for blank prompts.
var ErrEmptyPrompt = errors.New("imagegen: prompt cannot be empty")

// Runner starts one progressive run and returns once its initial step has
// settled. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, prompt string) *RunResult
}

// Queue serializes prompts so that at most one run is in its initial step at
// any time. Upgrades of earlier runs keep going in the background while
// later prompts are served.
type Queue struct {
	runner           Runner
	logger           *logging.Logger
	cancelSuperseded bool

	mu      sync.Mutex
	items   []string
	active  bool
	stopped bool
	lastRun *RunResult
	wake    chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithCancelSuperseded makes each new run cancel the remaining upgrades of
// the previous one.
func WithCancelSuperseded(enabled bool) QueueOption {
	return func(q *Queue) { q.cancelSuperseded = enabled }
}

// NewQueue creates a stopped queue; call Start to begin draining.
func NewQueue(runner Runner, logger *logging.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	q := &Queue{
		runner: runner,
		logger: logger.Named("queue"),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends prompt and returns the number of prompts ahead of it,
// counting the one currently in its initial step.
func (q *Queue) Enqueue(prompt string) (int, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return 0, ErrEmptyPrompt
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return 0, ErrQueueStopped
	}
	ahead := len(q.items)
	if q.active {
		ahead++
	}
	q.items = append(q.items, prompt)
	q.mu.Unlock()

	q.signal()
	q.logger.Debug("prompt queued", zap.Int("ahead", ahead))
	return ahead, nil
}

// EnqueueIfIdle enqueues prompt only while at most maxPending prompts are
// waiting. Automatic submitters use it so they never crowd out user prompts.
func (q *Queue) EnqueueIfIdle(prompt string, maxPending int) (bool, error) {
	q.mu.Lock()
	busy := len(q.items) > maxPending
	q.mu.Unlock()
	if busy {
		return false, nil
	}
	if _, err := q.Enqueue(prompt); err != nil {
		return false, err
	}
	return true, nil
}

// Pending returns the number of prompts waiting to start.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Active reports whether a run is currently in its initial step.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Start begins draining in a goroutine. Runs use a context derived from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.done != nil || q.stopped {
		q.mu.Unlock()
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.drain(ctx)
}

// Stop rejects further prompts, drops the waiting ones, and waits for the
// drain loop to exit. Background upgrades are not waited for.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	dropped := len(q.items)
	q.items = nil
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Info("queue stopped with pending prompts", zap.Int("dropped", dropped))
	}
	if cancel != nil {
		cancel()
		<-done
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) drain(ctx context.Context) {
	defer close(q.done)
	for {
		prompt, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.mu.Lock()
		previous := q.lastRun
		q.mu.Unlock()
		if q.cancelSuperseded && previous != nil {
			previous.Cancel()
		}

		res := q.runner.Run(ctx, prompt)

		q.mu.Lock()
		q.lastRun = res
		q.active = false
		q.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the head and marks the queue active.
func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.stopped {
		return "", false
	}
	prompt := q.items[0]
	q.items = q.items[1:]
	q.active = true
	return prompt, true
}
