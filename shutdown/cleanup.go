package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"go.uber.org/zap"
)

// CleanupTempFiles returns a handler that removes files starting with
// prefix from dir, the leftovers of image saves interrupted mid-write.
// Failures are logged and never block shutdown.
func CleanupTempFiles(logger *logging.Logger, dir, prefix string) Func {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ctx context.Context) error {
		removeTempFiles(ctx, logger, dir, prefix)
		return nil
	}
}

func removeTempFiles(ctx context.Context, logger *logging.Logger, dir, prefix string) (removed, failed int) {
	pattern := filepath.Join(dir, prefix+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		logger.Error("failed to list temporary files", zap.String("pattern", pattern), zap.Error(err))
		return 0, 0
	}
	if len(matches) == 0 {
		return 0, 0
	}

	for _, match := range matches {
		if ctx.Err() != nil {
			logger.Warn("cleanup interrupted",
				zap.Int("removed", removed),
				zap.Int("remaining", len(matches)-removed-failed))
			return removed, failed
		}
		if err := os.Remove(match); err != nil {
			failed++
			logger.Warn("failed to remove temporary file", zap.String("file", filepath.Base(match)), zap.Error(err))
			continue
		}
		removed++
	}
	logger.Info("removed temporary files", zap.Int("removed", removed), zap.Int("failed", failed))
	return removed, failed
}
