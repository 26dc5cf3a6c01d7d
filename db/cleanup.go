package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	RunsDeleted   int64
	ImagesDeleted int64
	Duration      time.Duration
}

// Cleanup deletes finished runs older than retentionDays, together with
// their images, then runs VACUUM. Active runs are never removed. The
// deletes share one transaction.
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return result, errClosed
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retentionDays))
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const expired = `SELECT slot_id FROM generation_runs WHERE created_at < ? AND status != 'active'`
	res, err := tx.ExecContext(ctx, `DELETE FROM generated_images WHERE slot_id IN (`+expired+`)`, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete from generated_images: %w", err)
	}
	if result.ImagesDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected for generated_images: %w", err)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM generation_runs WHERE created_at < ? AND status != 'active'`, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete from generation_runs: %w", err)
	}
	if result.RunsDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected for generation_runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if err := ctx.Err(); err != nil {
		// rows are gone, only VACUUM was skipped
		result.Duration = time.Since(start)
		return result, err
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("cleanup succeeded but VACUUM failed: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// CleanupSchedulerConfig configures StartCleanupScheduler.
type CleanupSchedulerConfig struct {
	RetentionDays int
	Interval      time.Duration
	// OnCleanup, if set, is called after every pass.
	OnCleanup func(result CleanupResult, err error)
}

// StartCleanupScheduler runs Cleanup immediately and then every Interval
// until ctx is done. The returned channel is closed when the goroutine
// exits.
func (d *Database) StartCleanupScheduler(ctx context.Context, config CleanupSchedulerConfig) <-chan struct{} {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		run := func() {
			result, err := d.Cleanup(ctx, config.RetentionDays)
			if config.OnCleanup != nil {
				config.OnCleanup(result, err)
			}
		}
		run()

		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
	return done
}
