package metrics

// Recorder receives backend attempts. Implementations must be safe for
// concurrent use; the selector calls it from every in-flight run.
type Recorder interface {
	RecordAttempt(rec AttemptRecord)
}

// NopRecorder discards records.
type NopRecorder struct{}

func (NopRecorder) RecordAttempt(AttemptRecord) {}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*Store)(nil)
)
