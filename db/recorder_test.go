package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
)

type fakeSaver struct {
	dir   string
	err   error
	names []string
}

func (f *fakeSaver) Save(_ context.Context, _ *imagegen.ImageHandle, name string) (*imagegen.DownloadResult, error) {
	f.names = append(f.names, name)
	if f.err != nil {
		return nil, f.err
	}
	return &imagegen.DownloadResult{Path: filepath.Join(f.dir, name+".png")}, nil
}

func urlImage(t *testing.T, q imagegen.Quality, upgrade bool) *imagegen.GeneratedImage {
	t.Helper()
	h, err := imagegen.NewURLHandle("https://img.test/" + q.String() + ".png")
	if err != nil {
		t.Fatalf("NewURLHandle() error = %v", err)
	}
	return &imagegen.GeneratedImage{Handle: h, Prompt: "a lighthouse", Quality: q, Backend: "replicate", IsUpgrade: upgrade, CreatedAt: testTime}
}

func TestHistoryRecorder_ProgressiveRun(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	rec := NewHistoryRecorder(repo, nil, nil)

	events := []imagegen.Event{
		{Kind: imagegen.EventNotice, SlotID: "s1", Reasons: []string{"quota"}},
		{Kind: imagegen.EventInitial, SlotID: "s1", Prompt: "a lighthouse", Image: urlImage(t, imagegen.QualityLow, false), Time: testTime},
		{Kind: imagegen.EventUpgrade, SlotID: "s1", Prompt: "a lighthouse", Image: urlImage(t, imagegen.QualityHigh, true), Time: testTime},
		{Kind: imagegen.EventCompleted, SlotID: "s1", Prompt: "a lighthouse", Time: testTime.Add(time.Second)},
	}
	for _, e := range events {
		rec.Publish(e)
	}

	runs, err := repo.RecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusCompleted || runs[0].ImageCount != 2 {
		t.Fatalf("runs = %+v, want one completed run with 2 images", runs)
	}

	images, _ := repo.ImagesForSlot(context.Background(), "s1")
	if images[0].Location != "https://img.test/LOW.png" {
		t.Errorf("Location = %q, want the backend URL", images[0].Location)
	}
	if images[1].Quality != "HIGH" || !images[1].IsUpgrade {
		t.Errorf("upgrade image = %+v", images[1])
	}
}

func TestHistoryRecorder_FailedRun(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	rec := NewHistoryRecorder(repo, nil, nil)

	rec.Publish(imagegen.Event{Kind: imagegen.EventFailed, SlotID: "s2", Prompt: "a cat", Reasons: []string{"all backends failed"}, Time: testTime})
	rec.Publish(imagegen.Event{Kind: imagegen.EventCompleted, SlotID: "s2", Prompt: "a cat", Time: testTime})

	runs, _ := repo.RecentRuns(context.Background(), 5)
	if len(runs) != 1 || runs[0].Status != StatusFailed {
		t.Fatalf("runs = %+v, want one failed run", runs)
	}
	if runs[0].ImageCount != 0 {
		t.Errorf("ImageCount = %d, want 0", runs[0].ImageCount)
	}
}

func TestHistoryRecorder_Locations(t *testing.T) {
	tests := []struct {
		name  string
		saver *fakeSaver
		image func(t *testing.T) *imagegen.GeneratedImage
		want  string
	}{
		{
			name:  "saved copy",
			saver: &fakeSaver{dir: "/data"},
			image: func(t *testing.T) *imagegen.GeneratedImage { return urlImage(t, imagegen.QualityMedium, false) },
			want:  filepath.Join("/data", "s3_MEDIUM.png"),
		},
		{
			name:  "save failure falls back to url",
			saver: &fakeSaver{err: errors.New("disk full")},
			image: func(t *testing.T) *imagegen.GeneratedImage { return urlImage(t, imagegen.QualityMedium, false) },
			want:  "https://img.test/MEDIUM.png",
		},
		{
			name: "inline without saver",
			image: func(*testing.T) *imagegen.GeneratedImage {
				return &imagegen.GeneratedImage{Handle: &imagegen.ImageHandle{Data: []byte{1}}, Quality: imagegen.QualityLow, Backend: "local_sd"}
			},
			want: InlineLocation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewRepository(openTestDB(t))
			var saver ImageSaver
			if tt.saver != nil {
				saver = tt.saver
			}
			rec := NewHistoryRecorder(repo, saver, nil)
			if err := rec.Apply(context.Background(), imagegen.Event{Kind: imagegen.EventInitial, SlotID: "s3", Prompt: "p", Image: tt.image(t)}); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			images, _ := repo.ImagesForSlot(context.Background(), "s3")
			if len(images) != 1 || images[0].Location != tt.want {
				t.Errorf("images = %+v, want location %q", images, tt.want)
			}
		})
	}
}

func TestHistoryRecorder_EnhancedSlotIsCompleted(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	rec := NewHistoryRecorder(repo, nil, nil)

	img := urlImage(t, imagegen.QualityEnhancedHigh, false)
	img.Enhanced = true
	rec.Publish(imagegen.Event{Kind: imagegen.EventInitial, SlotID: "s4", Prompt: "a lighthouse", Image: img, Time: testTime})

	runs, _ := repo.RecentRuns(context.Background(), 5)
	if len(runs) != 1 || runs[0].Status != StatusCompleted {
		t.Fatalf("runs = %+v, want the enhanced slot completed", runs)
	}
	images, _ := repo.ImagesForSlot(context.Background(), "s4")
	if len(images) != 1 || !images[0].Enhanced {
		t.Errorf("images = %+v, want one enhanced image", images)
	}
}

func TestHistoryRecorder_ThroughAsyncWriter(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	rec := NewHistoryRecorder(repo, nil, nil)
	w := NewAsyncWriter(rec.Handler())
	rec.UseWriter(w)
	w.Start()

	rec.Publish(imagegen.Event{Kind: imagegen.EventInitial, SlotID: "s5", Prompt: "a lighthouse", Image: urlImage(t, imagegen.QualityLow, false), Time: testTime})
	rec.Publish(imagegen.Event{Kind: imagegen.EventCompleted, SlotID: "s5", Time: testTime})
	if !w.StopWithTimeout(2 * time.Second) {
		t.Fatal("writer did not drain")
	}

	runs, _ := repo.RecentRuns(context.Background(), 5)
	if len(runs) != 1 || runs[0].Status != StatusCompleted || runs[0].ImageCount != 1 {
		t.Errorf("runs = %+v, want one completed run with 1 image", runs)
	}
}
