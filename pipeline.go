package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/core"
	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
	"github.com/jacobedelsonuw/visionboard-ai/llm"
	"github.com/jacobedelsonuw/visionboard-ai/logging"
	"github.com/jacobedelsonuw/visionboard-ai/metrics"
	"github.com/jacobedelsonuw/visionboard-ai/prompt"
	"github.com/jacobedelsonuw/visionboard-ai/shutdown"

	"go.uber.org/zap"
)

// metricsCapacity bounds the attempt log kept for /api/metrics.
const metricsCapacity = 500

// pipeline holds the generation components shared by serve and generate.
type pipeline struct {
	cfg       *core.Config
	logger    *logging.Logger
	client    *http.Client
	metrics   *metrics.Store
	priority  *imagegen.ServicePriority
	profiles  imagegen.ProfileTable
	selector  *imagegen.Selector
	sanitizer *prompt.Sanitizer
	history   *prompt.History
	llm       *llm.Client
	sequence  []imagegen.Quality
}

func buildPipeline(cfg *core.Config, logger *logging.Logger) (*pipeline, error) {
	p := &pipeline{
		cfg:       cfg,
		logger:    logger,
		client:    core.GetHTTPClient(cfg, cfg.HTTPTimeout),
		metrics:   metrics.NewStore(metricsCapacity, time.Now()),
		sanitizer: prompt.NewSanitizer(nil),
		history:   prompt.NewHistory(cfg.ContextHistorySize),
	}

	seq, err := imagegen.ParseSequence(cfg.QualitySequence)
	if err != nil {
		return nil, err
	}
	p.sequence = seq

	p.profiles, err = imagegen.LoadProfiles(cfg.QualityProfilesFile)
	if err != nil {
		return nil, err
	}

	p.priority, err = imagegen.NewServicePriority(cfg.ServicePriority, core.KnownBackends)
	if err != nil {
		return nil, err
	}

	backends, err := p.backends()
	if err != nil {
		return nil, err
	}
	p.selector, err = imagegen.NewSelector(imagegen.SelectorConfig{
		Backends: backends,
		Priority: p.priority,
		Profiles: p.profiles,
		Poller:   imagegen.NewPoller(imagegen.DefaultPollPolicies(), logger),
		Recorder: p.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.PromptEnhancement || cfg.BackgroundEnhancement || cfg.ContextualGeneration {
		p.llm, err = llm.NewClient(cfg, nil, logger)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("pipeline ready",
		zap.Strings("priority", p.priority.Snapshot()),
		zap.Int("backends", len(backends)),
		zap.Strings("sequence", cfg.QualitySequence),
		zap.Duration("delay", cfg.GenerationDelay),
		zap.Bool("llm", p.llm != nil))
	return p, nil
}

// backends builds an adapter for every enabled backend. A backend missing
// its credential is still built; it reports a configuration error when the
// selector reaches it.
func (p *pipeline) backends() ([]imagegen.Backend, error) {
	var out []imagegen.Backend
	if p.cfg.BackendEnabled(core.BackendReplicate) {
		b, err := imagegen.NewReplicateBackend(p.cfg, p.client, imagegen.WithReplicateRewriter(p.sanitizer.Rewrite))
		if err != nil {
			return nil, fmt.Errorf("replicate backend: %w", err)
		}
		out = append(out, b)
	}
	if p.cfg.BackendEnabled(core.BackendLocalSD) {
		b, err := imagegen.NewLocalSDBackend(p.cfg, p.client)
		if err != nil {
			return nil, fmt.Errorf("local diffusion backend: %w", err)
		}
		out = append(out, b)
	}
	if p.cfg.BackendEnabled(core.BackendOpenAI) {
		b, err := imagegen.NewOpenAIBackend(p.cfg, p.client, imagegen.WithOpenAIRewriter(prompt.Genericize))
		if err != nil {
			return nil, fmt.Errorf("openai backend: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *pipeline) orchestrator(pub imagegen.Publisher, tracker *shutdown.OperationTracker) (*imagegen.Orchestrator, error) {
	cfg := imagegen.OrchestratorConfig{
		Selector:       p.selector,
		Sequence:       p.sequence,
		Delay:          p.cfg.GenerationDelay,
		Publisher:      pub,
		Tracker:        tracker,
		Logger:         p.logger,
		EnhanceInline:  p.cfg.PromptEnhancement,
		EnhanceTimeout: p.cfg.OllamaTimeout,
		History:        p.history,
	}
	// a nil *llm.Client must not become a non-nil Enhancer
	if p.llm != nil && (p.cfg.PromptEnhancement || p.cfg.BackgroundEnhancement) {
		cfg.Enhancer = p.llm
	}
	if p.cfg.ToneStyling {
		cfg.Style = prompt.StyleWithTone
	}
	return imagegen.NewOrchestrator(cfg)
}
