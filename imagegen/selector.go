package imagegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/logging"
	"github.com/jacobedelsonuw/visionboard-ai/metrics"

	"go.uber.org/zap"
)

// Failure records why one backend did not produce an image.
type Failure struct {
	Backend string
	Kind    Kind
	Err     error
	Retried bool
}

// Selection is the outcome of one fallback attempt. A failed selection has
// a nil Handle and one Failure per backend that was tried.
type Selection struct {
	Handle   *ImageHandle
	Backend  string
	Prompt   string // prompt that produced Handle, possibly rewritten
	Quality  Quality
	Failures []Failure
}

// OK reports whether a backend produced an image.
func (s Selection) OK() bool {
	return s.Handle != nil
}

// Selector walks the service priority for one quality request and returns
// the first success.
type Selector struct {
	backends map[string]Backend
	priority *ServicePriority
	profiles ProfileTable
	poller   *Poller
	recorder metrics.Recorder
	logger   *logging.Logger
}

// SelectorConfig groups Selector dependencies.
type SelectorConfig struct {
	Backends []Backend
	Priority *ServicePriority
	Profiles ProfileTable
	Poller   *Poller
	Recorder metrics.Recorder
	Logger   *logging.Logger
}

// NewSelector creates a Selector. Backends are matched to priority entries
// by Name().
func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if cfg.Priority == nil {
		return nil, fmt.Errorf("imagegen: priority cannot be nil")
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Poller == nil {
		cfg.Poller = NewPoller(DefaultPollPolicies(), cfg.Logger)
	}

	backends := make(map[string]Backend, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b == nil {
			return nil, fmt.Errorf("imagegen: backend cannot be nil")
		}
		name := strings.ToUpper(b.Name())
		if _, dup := backends[name]; dup {
			return nil, fmt.Errorf("imagegen: backend %q registered twice", name)
		}
		backends[name] = b
	}

	return &Selector{
		backends: backends,
		priority: cfg.Priority,
		profiles: cfg.Profiles,
		poller:   cfg.Poller,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.Named("selector"),
	}, nil
}

// Priority exposes the shared priority list.
func (s *Selector) Priority() *ServicePriority {
	return s.priority
}

// Generate tries each enabled backend in priority order, at most once each
// (plus at most one rewritten-prompt retry after a rejection), and returns
// on the first success. It never returns an error: failures are absorbed
// into the Selection.
func (s *Selector) Generate(ctx context.Context, prompt string, q Quality) Selection {
	order := s.priority.Snapshot()
	sel := Selection{Quality: q}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			sel.Failures = append(sel.Failures, Failure{Backend: name, Kind: KindTransient, Err: NewTransientError(name, "run cancelled", err)})
			break
		}

		b, ok := s.backends[name]
		if !ok || !b.Enabled() {
			s.logger.Debug("backend skipped", zap.String("backend", name), zap.Bool("registered", ok))
			continue
		}

		profile, ok := s.profiles.Lookup(name, q)
		if !ok {
			err := NewConfigurationError(name, "no profile for quality "+q.String(), "Add the level to QUALITY_PROFILES_FILE")
			s.record(name, q, time.Now(), 0, false, err)
			sel.Failures = append(sel.Failures, Failure{Backend: name, Kind: KindConfiguration, Err: err})
			continue
		}
		profile.Quality = q

		handle, used, retried, err := s.attempt(ctx, b, prompt, profile)
		if err == nil {
			sel.Handle = handle
			sel.Backend = name
			sel.Prompt = used
			return sel
		}

		kind := Classify(err)
		fields := []zap.Field{zap.String("backend", name), zap.String("quality", q.String()), zap.String("kind", kind.String()), zap.Error(err)}
		if kind == KindConfiguration {
			s.logger.Error("backend misconfigured", fields...)
		} else {
			s.logger.Warn("backend failed, trying next", fields...)
		}
		sel.Failures = append(sel.Failures, Failure{Backend: name, Kind: kind, Err: err, Retried: retried})
	}

	return sel
}

// attempt calls b once and, after a content rejection, at most once more
// with the backend's rewritten prompt.
func (s *Selector) attempt(ctx context.Context, b Backend, prompt string, profile Profile) (*ImageHandle, string, bool, error) {
	handle, err := s.call(ctx, b, prompt, profile, false)
	if err == nil || Classify(err) != KindRejected {
		return handle, prompt, false, err
	}

	retrier, ok := b.(PromptRetrier)
	if !ok {
		return nil, prompt, false, err
	}
	rewritten := strings.TrimSpace(retrier.RetryPrompt(prompt))
	if rewritten == "" || rewritten == prompt {
		return nil, prompt, false, err
	}

	s.logger.Info("prompt rejected, retrying once with rewritten prompt",
		zap.String("backend", b.Name()),
		zap.String("rewritten", rewritten))

	handle, err = s.call(ctx, b, rewritten, profile, true)
	return handle, rewritten, true, err
}

// call runs one backend request, polls job handles to completion and
// records the attempt.
func (s *Selector) call(ctx context.Context, b Backend, prompt string, profile Profile, retried bool) (*ImageHandle, error) {
	started := time.Now()

	handle, err := b.Generate(ctx, prompt, profile)
	if err == nil && handle.IsJob() {
		if async, ok := b.(AsyncBackend); ok {
			job := &Job{ID: handle.JobID, Backend: b.Name(), Quality: profile.Quality, CreatedAt: started, Status: StatusStarting}
			handle, err = s.poller.Poll(ctx, job, async)
		} else {
			handle, err = nil, NewTransientError(b.Name(), "job handle", errNoPoller)
		}
	}
	if err == nil && (handle == nil || handle.Location() == "") {
		err = NewTransientError(b.Name(), "backend returned an empty handle", nil)
	}
	if err != nil {
		err = AsBackendError(b.Name(), err)
		handle = nil
	}

	s.record(b.Name(), profile.Quality, started, time.Since(started), retried, err)
	return handle, err
}

func (s *Selector) record(backend string, q Quality, started time.Time, d time.Duration, retried bool, err error) {
	rec := metrics.AttemptRecord{
		Backend:   backend,
		Quality:   q.String(),
		Outcome:   metrics.OutcomeSuccess,
		Retried:   retried,
		Duration:  d,
		StartedAt: started,
	}
	if err != nil {
		rec.Outcome = outcomeFor(Classify(err))
		rec.Error = logging.RedactSensitiveData(err.Error())
	}
	s.recorder.RecordAttempt(rec)
}

func outcomeFor(k Kind) string {
	switch k {
	case KindConfiguration:
		return metrics.OutcomeConfiguration
	case KindRejected:
		return metrics.OutcomeRejected
	case KindRateLimited:
		return metrics.OutcomeRateLimited
	case KindQuotaExceeded:
		return metrics.OutcomeQuotaExceeded
	default:
		return metrics.OutcomeTransient
	}
}
