package imagegen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/logging"
	"github.com/jacobedelsonuw/visionboard-ai/shutdown"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FallbackGenerator is what the orchestrator needs from a Selector.
type FallbackGenerator interface {
	Generate(ctx context.Context, prompt string, q Quality) Selection
}

// Enhancer rewrites a prompt into a richer one, typically with an LLM.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// PromptHistory receives every prompt that produced an initial image.
type PromptHistory interface {
	Add(prompt string)
}

// OrchestratorConfig groups Orchestrator dependencies.
type OrchestratorConfig struct {
	Selector  FallbackGenerator
	Sequence  []Quality
	Delay     time.Duration
	Publisher Publisher
	Tracker   *shutdown.OperationTracker
	Logger    *logging.Logger

	// Enhancer, when set with EnhanceInline, rewrites prompts before the
	// first quality request. EnhanceTimeout bounds that call.
	Enhancer       Enhancer
	EnhanceInline  bool
	EnhanceTimeout time.Duration

	// Style, when set, decorates the prompt after enhancement.
	Style   func(string) string
	History PromptHistory
}

// Orchestrator drives the progressive quality sequence for one prompt at a
// time per caller.
type Orchestrator struct {
	selector       FallbackGenerator
	sequence       []Quality
	delay          time.Duration
	publisher      Publisher
	tracker        *shutdown.OperationTracker
	logger         *logging.Logger
	enhancer       Enhancer
	enhanceInline  bool
	enhanceTimeout time.Duration
	style          func(string) string
	history        PromptHistory
	newID          func() string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Selector == nil {
		return nil, fmt.Errorf("imagegen: selector cannot be nil")
	}
	if len(cfg.Sequence) == 0 {
		return nil, fmt.Errorf("imagegen: quality sequence cannot be empty")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("imagegen: publisher cannot be nil")
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("imagegen: delay cannot be negative")
	}
	if cfg.Tracker == nil {
		cfg.Tracker = shutdown.NewOperationTracker()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.EnhanceTimeout <= 0 {
		cfg.EnhanceTimeout = 8 * time.Second
	}

	seq := make([]Quality, len(cfg.Sequence))
	copy(seq, cfg.Sequence)

	return &Orchestrator{
		selector:       cfg.Selector,
		sequence:       seq,
		delay:          cfg.Delay,
		publisher:      cfg.Publisher,
		tracker:        cfg.Tracker,
		logger:         cfg.Logger.Named("orchestrator"),
		enhancer:       cfg.Enhancer,
		enhanceInline:  cfg.EnhanceInline,
		enhanceTimeout: cfg.EnhanceTimeout,
		style:          cfg.Style,
		history:        cfg.History,
		newID:          uuid.NewString,
	}, nil
}

// RunResult describes a run once its initial step has settled.
type RunResult struct {
	SlotID   string
	Prompt   string
	Rendered string // prompt sent to backends after enhancement and styling
	Initial  *GeneratedImage
	Failures []Failure

	cancel context.CancelFunc
	done   chan struct{}
}

// OK reports whether the run published an initial image.
func (r *RunResult) OK() bool {
	return r.Initial != nil
}

// Done is closed when the whole sequence, including upgrades, has finished.
func (r *RunResult) Done() <-chan struct{} {
	return r.done
}

// Cancel stops any remaining upgrades of the run.
func (r *RunResult) Cancel() {
	r.cancel()
}

// Run requests each quality level in sequence order. It returns as soon as
// one level has produced the initial image, or once every level has failed;
// the remaining levels continue in a tracked goroutine and are published as
// upgrades of the same slot. Canceling ctx stops the run at the next step.
func (o *Orchestrator) Run(ctx context.Context, prompt string) *RunResult {
	runCtx, cancel := context.WithCancel(ctx)
	res := &RunResult{
		SlotID: o.newID(),
		Prompt: prompt,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	log := o.logger.With(zap.String("slot_id", res.SlotID))
	res.Rendered = o.prepare(runCtx, prompt, log)
	log.Info("run started", zap.String("prompt", truncateRunes(prompt, 80)), zap.Int("levels", len(o.sequence)))

	notices := newNoticeSet()
	for i, q := range o.sequence {
		sel := o.selector.Generate(runCtx, res.Rendered, q)
		o.notify(res, sel, notices)
		last := i == len(o.sequence)-1

		if sel.OK() {
			res.Initial = o.image(sel, false)
			if o.history != nil {
				o.history.Add(prompt)
			}
			o.publish(Event{Kind: EventInitial, SlotID: res.SlotID, Prompt: prompt, Image: res.Initial})
			log.Info("initial image published", zap.String("quality", q.String()), zap.String("backend", sel.Backend))

			if last || !o.tracker.Start() {
				o.finish(res, log)
				return res
			}
			go func(next int) {
				defer o.tracker.Done()
				o.upgrade(runCtx, res, next, notices, log)
			}(i + 1)
			return res
		}

		res.Failures = append(res.Failures, sel.Failures...)
		log.Warn("quality level failed", zap.String("quality", q.String()), zap.Int("backends_tried", len(sel.Failures)))
		if !last {
			if err := sleepContext(runCtx, o.delay); err != nil {
				break
			}
		}
	}

	reasons := append([]string{fmt.Sprintf("No backend produced an image for %q", truncateRunes(prompt, 80))}, notices.reasons()...)
	o.publish(Event{Kind: EventFailed, SlotID: res.SlotID, Prompt: prompt, Reasons: reasons})
	log.Warn("run failed at every quality level", zap.Int("failures", len(res.Failures)))
	o.finish(res, log)
	return res
}

// upgrade requests the levels from index start onwards. Failures are logged
// and skipped.
func (o *Orchestrator) upgrade(ctx context.Context, res *RunResult, start int, notices *noticeSet, log *logging.Logger) {
	defer o.finish(res, log)

	for j := start; j < len(o.sequence); j++ {
		if err := sleepContext(ctx, o.delay); err != nil {
			log.Info("upgrades cancelled", zap.Int("remaining", len(o.sequence)-j))
			return
		}
		q := o.sequence[j]
		sel := o.selector.Generate(ctx, res.Rendered, q)
		o.notify(res, sel, notices)
		if !sel.OK() {
			log.Warn("upgrade failed", zap.String("quality", q.String()), zap.Int("backends_tried", len(sel.Failures)))
			continue
		}
		o.publish(Event{Kind: EventUpgrade, SlotID: res.SlotID, Prompt: res.Prompt, Image: o.image(sel, true)})
		log.Info("upgrade published", zap.String("quality", q.String()), zap.String("backend", sel.Backend))
	}
}

func (o *Orchestrator) finish(res *RunResult, log *logging.Logger) {
	o.publish(Event{Kind: EventCompleted, SlotID: res.SlotID, Prompt: res.Prompt})
	res.cancel()
	close(res.done)
	log.Debug("run finished")
}

// EnhanceInBackground asks the enhancer for a richer prompt and renders it
// once at the final quality level as a new slot. It returns false when no
// enhancer is configured or the process is shutting down.
func (o *Orchestrator) EnhanceInBackground(ctx context.Context, prompt string) bool {
	if o.enhancer == nil || !o.tracker.Start() {
		return false
	}
	go func() {
		defer o.tracker.Done()
		log := o.logger.With(zap.String("task", "background_enhance"))

		enhanced, err := o.enhancer.Enhance(ctx, prompt)
		if err != nil {
			log.Warn("enhancement failed", zap.Error(err))
			return
		}
		enhanced = strings.TrimSpace(enhanced)
		if wordCount(enhanced) < 3 || strings.EqualFold(enhanced, prompt) {
			log.Debug("enhancement produced nothing new")
			return
		}

		final := o.sequence[len(o.sequence)-1]
		sel := o.selector.Generate(ctx, enhanced, final)
		if !sel.OK() {
			log.Warn("enhanced render failed", zap.Int("backends_tried", len(sel.Failures)))
			return
		}
		img := o.image(sel, false)
		img.Enhanced = true
		slot := o.newID()
		o.publish(Event{Kind: EventInitial, SlotID: slot, Prompt: prompt, Image: img})
		log.Info("enhanced image published", zap.String("slot_id", slot), zap.String("backend", sel.Backend))
	}()
	return true
}

// Wait blocks until background work finishes or timeout elapses.
func (o *Orchestrator) Wait(timeout time.Duration) error {
	return o.tracker.Wait(timeout)
}

// Sequence returns a copy of the configured quality order.
func (o *Orchestrator) Sequence() []Quality {
	out := make([]Quality, len(o.sequence))
	copy(out, o.sequence)
	return out
}

func (o *Orchestrator) prepare(ctx context.Context, prompt string, log *logging.Logger) string {
	text := strings.TrimSpace(prompt)
	if o.enhancer != nil && o.enhanceInline {
		ectx, cancel := context.WithTimeout(ctx, o.enhanceTimeout)
		enhanced, err := o.enhancer.Enhance(ectx, text)
		cancel()
		switch {
		case err != nil:
			log.Warn("prompt enhancement failed, using original", zap.Error(err))
		case wordCount(enhanced) < 3:
			log.Debug("prompt enhancement too short, using original")
		default:
			text = strings.TrimSpace(enhanced)
		}
	}
	if o.style != nil {
		text = o.style(text)
	}
	return text
}

func (o *Orchestrator) image(sel Selection, upgrade bool) *GeneratedImage {
	return &GeneratedImage{
		Handle:    sel.Handle,
		Prompt:    sel.Prompt,
		Quality:   sel.Quality,
		Backend:   sel.Backend,
		IsUpgrade: upgrade,
		CreatedAt: time.Now(),
	}
}

func (o *Orchestrator) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o.publisher.Publish(e)
}

// notify publishes one notice per backend and kind for failures the user
// has to act on.
func (o *Orchestrator) notify(res *RunResult, sel Selection, notices *noticeSet) {
	for _, f := range sel.Failures {
		if !surfaced(f.Kind) {
			continue
		}
		text := Remediation(f.Err)
		if text == "" {
			text = f.Err.Error()
		}
		if notices.add(f.Backend+"/"+f.Kind.String(), text) {
			o.publish(Event{Kind: EventNotice, SlotID: res.SlotID, Prompt: res.Prompt, Reasons: []string{text}})
		}
	}
}

type noticeSet struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
}

func newNoticeSet() *noticeSet {
	return &noticeSet{seen: make(map[string]bool)}
}

func (n *noticeSet) add(key, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen[key] {
		return false
	}
	n.seen[key] = true
	n.order = append(n.order, text)
	return true
}

func (n *noticeSet) reasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
