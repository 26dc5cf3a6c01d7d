package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Run statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// timeLayout is fixed width so stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunRecord is one row of generation_runs. ImageCount is filled in by
// RecentRuns.
type RunRecord struct {
	ID          int64      `json:"id"`
	SlotID      string     `json:"slot_id"`
	Prompt      string     `json:"prompt"`
	Status      string     `json:"status"`
	Reasons     []string   `json:"reasons,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ImageCount  int        `json:"image_count"`
}

// ImageRecord is one row of generated_images. Location is a URL, a local
// file path, or "inline" for images that were only delivered in memory.
type ImageRecord struct {
	ID        int64     `json:"id"`
	SlotID    string    `json:"slot_id"`
	Quality   string    `json:"quality"`
	Backend   string    `json:"backend"`
	Prompt    string    `json:"prompt"`
	Location  string    `json:"location"`
	IsUpgrade bool      `json:"is_upgrade"`
	Enhanced  bool      `json:"enhanced"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository reads and writes generation history.
type Repository struct {
	db *Database
}

// NewRepository wraps d.
func NewRepository(d *Database) *Repository {
	return &Repository{db: d}
}

// RecordRun inserts a run in the active state. Recording the same slot
// twice keeps the first row.
func (r *Repository) RecordRun(ctx context.Context, slotID, prompt string, at time.Time) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO generation_runs (slot_id, prompt, status, created_at) VALUES (?, ?, ?, ?)`,
		slotID, prompt, StatusActive, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", slotID, err)
	}
	return nil
}

// RecordImage inserts an image and returns its id. The run must exist.
func (r *Repository) RecordImage(ctx context.Context, img ImageRecord) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	res, err := conn.ExecContext(ctx, `
		INSERT INTO generated_images (
			slot_id, quality, backend, prompt, location, is_upgrade, enhanced, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		img.SlotID, img.Quality, img.Backend, img.Prompt, img.Location,
		boolInt(img.IsUpgrade), boolInt(img.Enhanced), formatTime(img.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert image for %s: %w", img.SlotID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// MarkRunFailed moves a run to failed and stores the reasons shown to the
// user.
func (r *Repository) MarkRunFailed(ctx context.Context, slotID string, reasons []string, at time.Time) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx,
		`UPDATE generation_runs SET status = ?, reasons = ?, completed_at = ? WHERE slot_id = ?`,
		StatusFailed, nullString(strings.Join(reasons, "\n")), formatTime(at), slotID)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", slotID, err)
	}
	return nil
}

// CompleteRun stamps completed_at. A failed run keeps its status.
func (r *Repository) CompleteRun(ctx context.Context, slotID string, at time.Time) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE generation_runs
		SET status = CASE WHEN status = ? THEN ? ELSE status END,
			completed_at = COALESCE(completed_at, ?)
		WHERE slot_id = ?`,
		StatusActive, StatusCompleted, formatTime(at), slotID)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", slotID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first, with image counts.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT r.id, r.slot_id, r.prompt, r.status, COALESCE(r.reasons, ''),
			   r.created_at, r.completed_at, COUNT(i.id)
		FROM generation_runs r
		LEFT JOIN generated_images i ON i.slot_id = r.slot_id
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run       RunRecord
			reasons   string
			createdAt string
			completed sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.SlotID, &run.Prompt, &run.Status, &reasons,
			&createdAt, &completed, &run.ImageCount); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if reasons != "" {
			run.Reasons = strings.Split(reasons, "\n")
		}
		run.CreatedAt = parseTime(createdAt)
		if completed.Valid {
			t := parseTime(completed.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// ImagesForSlot returns the images of one run in the order they were
// published.
func (r *Repository) ImagesForSlot(ctx context.Context, slotID string) ([]ImageRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT id, slot_id, quality, backend, prompt, location, is_upgrade, enhanced, created_at
		FROM generated_images
		WHERE slot_id = ?
		ORDER BY id`, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []ImageRecord
	for rows.Next() {
		var (
			img               ImageRecord
			upgrade, enhanced int
			createdAt         string
		)
		if err := rows.Scan(&img.ID, &img.SlotID, &img.Quality, &img.Backend, &img.Prompt,
			&img.Location, &upgrade, &enhanced, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		img.IsUpgrade = upgrade != 0
		img.Enhanced = enhanced != 0
		img.CreatedAt = parseTime(createdAt)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating image rows: %w", err)
	}
	return images, nil
}

// CountRuns returns the number of stored runs.
func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
