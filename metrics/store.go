package metrics

import (
	"sync"
	"time"
)

// Store is a thread-safe Recorder keeping a ring buffer of recent attempts
// and per-backend aggregates.
//
// Usage:
//
//	store := NewStore(200, time.Now())
//	store.RecordAttempt(rec)
//	snap := store.Snapshot(20)
type Store struct {
	mu sync.RWMutex

	history []AttemptRecord
	head    int
	size    int

	total     int64
	byBackend map[string]*backendAgg

	startTime time.Time
}

type backendAgg struct {
	attempts      int64
	successes     int64
	failures      map[string]int64
	totalDuration time.Duration
	lastOutcome   string
	lastSeen      time.Time
}

// NewStore creates a Store retaining capacity recent attempts.
func NewStore(capacity int, startTime time.Time) *Store {
	if capacity < 1 {
		capacity = 100
	}
	return &Store{
		history:   make([]AttemptRecord, capacity),
		byBackend: make(map[string]*backendAgg),
		startTime: startTime,
	}
}

// RecordAttempt implements Recorder.
func (s *Store) RecordAttempt(rec AttemptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = rec
	s.head = (s.head + 1) % len(s.history)
	if s.size < len(s.history) {
		s.size++
	}

	s.total++
	agg, ok := s.byBackend[rec.Backend]
	if !ok {
		agg = &backendAgg{failures: make(map[string]int64)}
		s.byBackend[rec.Backend] = agg
	}
	agg.attempts++
	if rec.Outcome == OutcomeSuccess {
		agg.successes++
	} else {
		agg.failures[rec.Outcome]++
	}
	agg.totalDuration += rec.Duration
	agg.lastOutcome = rec.Outcome
	agg.lastSeen = rec.StartedAt.Add(rec.Duration)
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(limit int) []AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentLocked(limit)
}

func (s *Store) recentLocked(limit int) []AttemptRecord {
	if limit <= 0 || s.size == 0 {
		return []AttemptRecord{}
	}
	if limit > s.size {
		limit = s.size
	}
	out := make([]AttemptRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.head - 1 - i + len(s.history)) % len(s.history)
		out[i] = s.history[idx]
	}
	return out
}

// Snapshot copies the aggregates and the recentLimit newest attempts.
func (s *Store) Snapshot(recentLimit int) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Uptime:    time.Since(s.startTime),
		Total:     s.total,
		ByBackend: make(map[string]*BackendStats, len(s.byBackend)),
		Recent:    s.recentLocked(recentLimit),
	}
	for name, agg := range s.byBackend {
		stats := &BackendStats{
			Attempts:    agg.attempts,
			Successes:   agg.successes,
			Failures:    make(map[string]int64, len(agg.failures)),
			LastOutcome: agg.lastOutcome,
			LastSeen:    agg.lastSeen,
		}
		for k, v := range agg.failures {
			stats.Failures[k] = v
		}
		if agg.attempts > 0 {
			stats.SuccessRate = float64(agg.successes) / float64(agg.attempts) * 100
			stats.AvgDuration = agg.totalDuration / time.Duration(agg.attempts)
		}
		snap.ByBackend[name] = stats
	}
	return snap
}
