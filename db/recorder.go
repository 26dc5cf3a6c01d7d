package db

import (
	"context"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"go.uber.org/zap"
)

// InlineLocation is stored for images that have neither a URL nor a saved
// copy.
const InlineLocation = "inline"

// ImageSaver stores an image locally. *imagegen.Downloader implements it.
type ImageSaver interface {
	Save(ctx context.Context, handle *imagegen.ImageHandle, name string) (*imagegen.DownloadResult, error)
}

// HistoryRecorder is an imagegen.Publisher that persists orchestrator
// events. With a writer the events are applied on the writer goroutine;
// without one Publish writes synchronously.
type HistoryRecorder struct {
	repo    *Repository
	writer  *AsyncWriter
	saver   ImageSaver
	logger  *logging.Logger
	timeout time.Duration
}

// NewHistoryRecorder creates a recorder. saver may be nil, in which case
// images are recorded by URL only.
func NewHistoryRecorder(repo *Repository, saver ImageSaver, logger *logging.Logger) *HistoryRecorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HistoryRecorder{
		repo:    repo,
		saver:   saver,
		logger:  logger.Named("history"),
		timeout: 30 * time.Second,
	}
}

// Handler returns a WriteHandler for an AsyncWriter feeding this recorder.
func (h *HistoryRecorder) Handler() WriteHandler {
	return func(op WriteOperation) error {
		e, ok := op.Data.(imagegen.Event)
		if !ok {
			return nil
		}
		return h.Apply(context.Background(), e)
	}
}

// UseWriter routes Publish through w. w must have been created with
// Handler.
func (h *HistoryRecorder) UseWriter(w *AsyncWriter) {
	h.writer = w
}

// Publish implements imagegen.Publisher. Notices are not stored.
func (h *HistoryRecorder) Publish(e imagegen.Event) {
	if e.Kind == imagegen.EventNotice {
		return
	}
	if h.writer != nil {
		if !h.writer.Write(e) {
			h.logger.Warn("history write dropped", zap.String("slot_id", e.SlotID), zap.String("kind", string(e.Kind)))
		}
		return
	}
	if err := h.Apply(context.Background(), e); err != nil {
		h.logger.Warn("history write failed", zap.String("slot_id", e.SlotID), zap.Error(err))
	}
}

// Apply stores one event.
func (h *HistoryRecorder) Apply(ctx context.Context, e imagegen.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	switch e.Kind {
	case imagegen.EventInitial:
		if err := h.repo.RecordRun(ctx, e.SlotID, e.Prompt, at); err != nil {
			return err
		}
		if err := h.recordImage(ctx, e); err != nil {
			return err
		}
		// enhanced renditions are single-image slots with no completion event
		if e.Image != nil && e.Image.Enhanced {
			return h.repo.CompleteRun(ctx, e.SlotID, at)
		}
		return nil
	case imagegen.EventUpgrade:
		return h.recordImage(ctx, e)
	case imagegen.EventFailed:
		if err := h.repo.RecordRun(ctx, e.SlotID, e.Prompt, at); err != nil {
			return err
		}
		return h.repo.MarkRunFailed(ctx, e.SlotID, e.Reasons, at)
	case imagegen.EventCompleted:
		return h.repo.CompleteRun(ctx, e.SlotID, at)
	}
	return nil
}

func (h *HistoryRecorder) recordImage(ctx context.Context, e imagegen.Event) error {
	img := e.Image
	if img == nil {
		return nil
	}
	_, err := h.repo.RecordImage(ctx, ImageRecord{
		SlotID:    e.SlotID,
		Quality:   img.Quality.String(),
		Backend:   img.Backend,
		Prompt:    img.Prompt,
		Location:  h.location(ctx, e.SlotID, img),
		IsUpgrade: img.IsUpgrade,
		Enhanced:  img.Enhanced,
		CreatedAt: img.CreatedAt,
	})
	return err
}

// location prefers a saved copy, then the backend URL.
func (h *HistoryRecorder) location(ctx context.Context, slotID string, img *imagegen.GeneratedImage) string {
	if h.saver != nil && img.Handle != nil {
		res, err := h.saver.Save(ctx, img.Handle, slotID+"_"+img.Quality.String())
		if err == nil {
			return res.Path
		}
		h.logger.Warn("failed to save image", zap.String("slot_id", slotID), zap.Error(err))
	}
	if img.Handle != nil && img.Handle.URL != "" {
		return img.Handle.URL
	}
	return InlineLocation
}
