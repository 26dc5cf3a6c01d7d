package db

import (
	"context"
	"fmt"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

func TestRepository_RunLifecycle(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.RecordRun(ctx, "slot-1", "a misty forest", testTime); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	// duplicate keeps the first prompt
	if err := repo.RecordRun(ctx, "slot-1", "something else", testTime.Add(time.Minute)); err != nil {
		t.Fatalf("duplicate RecordRun() error = %v", err)
	}

	for i, q := range []string{"LOW", "MEDIUM"} {
		_, err := repo.RecordImage(ctx, ImageRecord{
			SlotID:    "slot-1",
			Quality:   q,
			Backend:   "replicate",
			Prompt:    "a misty forest",
			Location:  "https://img.test/" + q,
			IsUpgrade: i > 0,
			CreatedAt: testTime.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordImage(%s) error = %v", q, err)
		}
	}

	if err := repo.CompleteRun(ctx, "slot-1", testTime.Add(time.Minute)); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	runs, err := repo.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("RecentRuns() returned %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Prompt != "a misty forest" {
		t.Errorf("Prompt = %q", run.Prompt)
	}
	if run.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", run.Status, StatusCompleted)
	}
	if run.ImageCount != 2 {
		t.Errorf("ImageCount = %d, want 2", run.ImageCount)
	}
	if !run.CreatedAt.Equal(testTime) {
		t.Errorf("CreatedAt = %v, want %v", run.CreatedAt, testTime)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(testTime.Add(time.Minute)) {
		t.Errorf("CompletedAt = %v", run.CompletedAt)
	}

	images, err := repo.ImagesForSlot(ctx, "slot-1")
	if err != nil {
		t.Fatalf("ImagesForSlot() error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("ImagesForSlot() returned %d, want 2", len(images))
	}
	if images[0].Quality != "LOW" || images[0].IsUpgrade {
		t.Errorf("first image = %+v", images[0])
	}
	if images[1].Quality != "MEDIUM" || !images[1].IsUpgrade {
		t.Errorf("second image = %+v", images[1])
	}
}

func TestRepository_MarkRunFailed(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	repo.RecordRun(ctx, "slot-f", "a beach", testTime)
	reasons := []string{"No backend produced an image", "Replicate token is missing"}
	if err := repo.MarkRunFailed(ctx, "slot-f", reasons, testTime); err != nil {
		t.Fatalf("MarkRunFailed() error = %v", err)
	}
	// completion after failure keeps the failed status
	if err := repo.CompleteRun(ctx, "slot-f", testTime.Add(time.Second)); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	runs, err := repo.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	run := runs[0]
	if run.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", run.Status, StatusFailed)
	}
	if len(run.Reasons) != 2 || run.Reasons[1] != reasons[1] {
		t.Errorf("Reasons = %v, want %v", run.Reasons, reasons)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(testTime) {
		t.Errorf("CompletedAt = %v, want %v", run.CompletedAt, testTime)
	}
}

func TestRepository_RecordImageRequiresRun(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	_, err := repo.RecordImage(context.Background(), ImageRecord{
		SlotID: "missing", Quality: "LOW", Backend: "local_sd", Prompt: "p", Location: InlineLocation,
	})
	if err == nil {
		t.Error("RecordImage() for an unknown slot should violate the foreign key")
	}
}

func TestRepository_RecentRunsOrderAndLimit(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		slot := fmt.Sprintf("slot-%d", i)
		if err := repo.RecordRun(ctx, slot, "prompt "+slot, testTime.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordRun() error = %v", err)
		}
	}

	runs, err := repo.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
	for i, want := range []string{"slot-4", "slot-3", "slot-2"} {
		if runs[i].SlotID != want {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i].SlotID, want)
		}
		if runs[i].Status != StatusActive || runs[i].CompletedAt != nil {
			t.Errorf("runs[%d] should still be active", i)
		}
	}
}

func TestTimeFormatSortsLexically(t *testing.T) {
	a := formatTime(testTime)
	b := formatTime(testTime.Add(500 * time.Millisecond))
	if !(a < b) {
		t.Errorf("%q should sort before %q", a, b)
	}
	if got := parseTime(a); !got.Equal(testTime) {
		t.Errorf("parseTime(%q) = %v", a, got)
	}
}
