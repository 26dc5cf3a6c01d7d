package imagegen

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"go.uber.org/zap"
)

// ContextSource exposes recent successful prompts.
type ContextSource interface {
	Recent(n int) []string
	Len() int
}

// Suggester proposes a prompt that complements recent ones.
type Suggester interface {
	SuggestContextual(ctx context.Context, recent []string) (string, error)
}

// ContextualConfig tunes ContextualGenerator.
type ContextualConfig struct {
	Interval  time.Duration
	MinImages int // history length required before suggesting
	MaxImages int // total suggestions before the generator goes quiet
	MaxQueue  int // skip a tick while more prompts than this are waiting
	Window    int // number of recent prompts handed to the suggester
}

// ContextualGenerator periodically submits prompts that extend the board,
// but only while the queue is nearly idle.
type ContextualGenerator struct {
	queue     *Queue
	history   ContextSource
	suggester Suggester
	fallback  func(recent []string) string
	cfg       ContextualConfig
	logger    *logging.Logger

	mu        sync.Mutex
	generated int
}

// NewContextualGenerator creates the generator. suggester may be nil, in
// which case fallback alone supplies prompts.
func NewContextualGenerator(queue *Queue, history ContextSource, suggester Suggester, fallback func([]string) string, cfg ContextualConfig, logger *logging.Logger) *ContextualGenerator {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ContextualGenerator{
		queue:     queue,
		history:   history,
		suggester: suggester,
		fallback:  fallback,
		cfg:       cfg,
		logger:    logger.Named("contextual"),
	}
}

// Start ticks until ctx is done.
func (g *ContextualGenerator) Start(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick(ctx)
		}
	}
}

// Generated returns the number of prompts submitted so far.
func (g *ContextualGenerator) Generated() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generated
}

// Tick submits at most one prompt and reports whether it did.
func (g *ContextualGenerator) Tick(ctx context.Context) bool {
	g.mu.Lock()
	capped := g.cfg.MaxImages > 0 && g.generated >= g.cfg.MaxImages
	g.mu.Unlock()
	if capped || g.history.Len() < g.cfg.MinImages {
		return false
	}
	if g.queue.Pending() > g.cfg.MaxQueue {
		return false
	}

	recent := g.history.Recent(g.cfg.Window)
	prompt := ""
	if g.suggester != nil {
		suggested, err := g.suggester.SuggestContextual(ctx, recent)
		if err != nil {
			g.logger.Debug("suggestion failed, using fallback", zap.Error(err))
		} else {
			prompt = strings.TrimSpace(suggested)
		}
	}
	if prompt == "" && g.fallback != nil {
		prompt = g.fallback(recent)
	}
	if prompt == "" {
		return false
	}

	ok, err := g.queue.EnqueueIfIdle(prompt, g.cfg.MaxQueue)
	if err != nil || !ok {
		return false
	}

	g.mu.Lock()
	g.generated++
	n := g.generated
	g.mu.Unlock()
	g.logger.Info("contextual prompt queued", zap.Int("generated", n), zap.String("prompt", truncateRunes(prompt, 80)))
	return true
}
