package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"go.uber.org/zap"
)

// PollPolicy bounds polling of one job.
type PollPolicy struct {
	Interval time.Duration
	Ceiling  time.Duration
	// StuckLimit aborts after this many consecutive starting/queued polls.
	StuckLimit int
	// ErrorBackoffFactor multiplies Interval after a failed poll request.
	ErrorBackoffFactor int
	// LogEvery controls progress logging frequency, in polls.
	LogEvery int
}

// MaxAttempts is the attempt budget implied by Ceiling and Interval.
// Failed poll requests consume attempts too.
func (p PollPolicy) MaxAttempts() int {
	if p.Interval <= 0 {
		return 1
	}
	n := int(p.Ceiling / p.Interval)
	if n < 1 {
		n = 1
	}
	return n
}

// PollPolicies selects a policy by quality. Preview quality fails fast so a
// bad preview does not hold up the rest of the sequence.
type PollPolicies struct {
	Preview  PollPolicy
	Standard PollPolicy
}

// DefaultPollPolicies returns 150ms/15s for preview and 500ms/60s otherwise.
func DefaultPollPolicies() PollPolicies {
	return PollPolicies{
		Preview: PollPolicy{
			Interval:           150 * time.Millisecond,
			Ceiling:            15 * time.Second,
			StuckLimit:         10,
			ErrorBackoffFactor: 2,
			LogEvery:           5,
		},
		Standard: PollPolicy{
			Interval:           500 * time.Millisecond,
			Ceiling:            60 * time.Second,
			StuckLimit:         10,
			ErrorBackoffFactor: 2,
			LogEvery:           10,
		},
	}
}

// For returns the policy for q.
func (p PollPolicies) For(q Quality) PollPolicy {
	if q == PreviewQuality {
		return p.Preview
	}
	return p.Standard
}

// Poller resolves job handles by polling their backend.
type Poller struct {
	policies PollPolicies
	logger   *logging.Logger
	now      func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(policies PollPolicies, logger *logging.Logger) *Poller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Poller{policies: policies, logger: logger.Named("poller"), now: time.Now}
}

// Poll queries backend until job reaches a terminal state, appears stuck,
// or the policy's ceiling is reached. Every return other than a handle is a
// classified *BackendError; job.Status holds the last observed status.
func (p *Poller) Poll(ctx context.Context, job *Job, backend AsyncBackend) (*ImageHandle, error) {
	policy := p.policies.For(job.Quality)
	maxAttempts := policy.MaxAttempts()
	deadline := p.now().Add(policy.Ceiling)
	log := p.logger.With(
		zap.String("job_id", job.ID),
		zap.String("backend", job.Backend),
		zap.String("quality", job.Quality.String()),
	)

	stuck := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			job.Status = StatusCanceled
			return nil, NewTransientError(job.Backend, "polling cancelled", err)
		}

		wait := policy.Interval
		status, err := backend.JobStatus(ctx, job.ID)
		if err != nil {
			if Classify(err) == KindConfiguration {
				return nil, err
			}
			log.Warn("poll request failed", zap.Int("attempt", attempt), zap.Error(err))
			factor := policy.ErrorBackoffFactor
			if factor < 1 {
				factor = 1
			}
			wait = policy.Interval * time.Duration(factor)
		} else {
			job.Status = status.Status
			if handle, done, terr := p.resolve(job, status); done {
				if terr != nil {
					log.Warn("job ended without image", zap.String("status", status.Status), zap.Error(terr))
				} else {
					log.Debug("job succeeded", zap.Int("attempts", attempt), zap.Duration("elapsed", p.now().Sub(job.CreatedAt)))
				}
				return handle, terr
			}

			if status.Status == StatusStarting || status.Status == StatusQueued {
				stuck++
				if policy.StuckLimit > 0 && stuck >= policy.StuckLimit {
					log.Warn("job stuck before processing", zap.Int("polls", stuck))
					return nil, NewTransientError(job.Backend, fmt.Sprintf("job stuck in %q for %d polls", status.Status, stuck), nil)
				}
			} else {
				stuck = 0
			}
		}

		if policy.LogEvery > 0 && attempt%policy.LogEvery == 0 {
			log.Debug("still polling", zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.String("status", job.Status))
		}

		if attempt == maxAttempts || !p.now().Add(wait).Before(deadline) {
			break
		}
		if err := sleepContext(ctx, wait); err != nil {
			job.Status = StatusCanceled
			return nil, NewTransientError(job.Backend, "polling cancelled", err)
		}
	}

	job.Status = StatusTimedOut
	log.Warn("job timed out", zap.Duration("ceiling", policy.Ceiling))
	return nil, NewTransientError(job.Backend, fmt.Sprintf("job did not finish within %s", policy.Ceiling), nil)
}

// resolve maps a terminal status to its outcome. done is false for
// non-terminal statuses.
func (p *Poller) resolve(job *Job, status JobStatus) (*ImageHandle, bool, error) {
	switch status.Status {
	case StatusSucceeded:
		for _, out := range status.Output {
			if strings.TrimSpace(out) == "" {
				continue
			}
			handle, err := NewURLHandle(out)
			if err != nil {
				return nil, true, NewTransientError(job.Backend, "job output is not a usable image", err)
			}
			return handle, true, nil
		}
		return nil, true, NewTransientError(job.Backend, "job succeeded with no output", nil)
	case StatusFailed:
		msg := status.Error
		if msg == "" {
			msg = "job failed"
		}
		if IsContentPolicyMessage(msg) {
			return nil, true, NewRejectedError(job.Backend, msg)
		}
		return nil, true, NewTransientError(job.Backend, msg, nil)
	case StatusCanceled:
		return nil, true, NewTransientError(job.Backend, "job was canceled", nil)
	}
	return nil, false, nil
}

var contentPolicyMarkers = []string{"nsfw", "safety", "content policy", "content_policy", "inappropriate"}

// IsContentPolicyMessage reports whether a backend failure message reads as
// a policy rejection rather than an infrastructure failure.
func IsContentPolicyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range contentPolicyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errNoPoller is returned when a backend hands back a job but the selector
// has no poller or the backend cannot report status.
var errNoPoller = errors.New("backend returned a job id but cannot be polled")
