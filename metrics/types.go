// Package metrics keeps in-memory statistics about backend attempts made by
// the generation pipeline.
package metrics

import "time"

// Outcome values for AttemptRecord.
const (
	OutcomeSuccess       = "success"
	OutcomeTransient     = "transient"
	OutcomeConfiguration = "configuration"
	OutcomeRejected      = "rejected_content"
	OutcomeRateLimited   = "rate_limited"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeSkipped       = "skipped"
)

// AttemptRecord is one backend call made by the selector.
type AttemptRecord struct {
	Backend   string        `json:"backend"`
	Quality   string        `json:"quality"`
	Outcome   string        `json:"outcome"`
	Retried   bool          `json:"retried"`
	Duration  time.Duration `json:"duration_ms"`
	StartedAt time.Time     `json:"started_at"`
	Error     string        `json:"error,omitempty"`
}

// BackendStats aggregates attempts for one backend.
type BackendStats struct {
	Attempts    int64            `json:"attempts"`
	Successes   int64            `json:"successes"`
	Failures    map[string]int64 `json:"failures"`
	SuccessRate float64          `json:"success_rate"`
	AvgDuration time.Duration    `json:"avg_duration_ms"`
	LastOutcome string           `json:"last_outcome"`
	LastSeen    time.Time        `json:"last_seen"`
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Uptime    time.Duration            `json:"uptime"`
	Total     int64                    `json:"total_attempts"`
	ByBackend map[string]*BackendStats `json:"by_backend"`
	Recent    []AttemptRecord          `json:"recent"`
}
