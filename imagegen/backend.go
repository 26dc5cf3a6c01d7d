package imagegen

import (
	"context"
	"time"
)

// Backend is one image generation service.
//
// Generate returns only on confirmed success or with a classified
// *BackendError. Synchronous backends return a handle with Data or URL set;
// asynchronous backends return a handle with only JobID set and must also
// implement AsyncBackend.
type Backend interface {
	Name() string
	Enabled() bool
	Generate(ctx context.Context, prompt string, profile Profile) (*ImageHandle, error)
}

// AsyncBackend is implemented by backends that return job ids.
type AsyncBackend interface {
	Backend
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
}

// PromptRetrier is implemented by backends whose rejections are worth one
// retry with a rewritten prompt. RetryPrompt returns the prompt for that
// single retry.
type PromptRetrier interface {
	RetryPrompt(prompt string) string
}

// Job status values reported by asynchronous backends.
const (
	StatusStarting   = "starting"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
	StatusTimedOut   = "timed_out"
)

// JobStatus is one poll response.
type JobStatus struct {
	Status string
	Output []string
	Error  string
}

// Terminal reports whether polling can stop.
func (s JobStatus) Terminal() bool {
	switch s.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Job is an in-flight remote prediction. It lives only while it is polled.
type Job struct {
	ID        string
	Backend   string
	Quality   Quality
	CreatedAt time.Time
	Status    string
}
