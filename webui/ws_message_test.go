package webui

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
)

func TestMessageFromEvent(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	img := &imagegen.GeneratedImage{
		Handle:  &imagegen.ImageHandle{URL: "https://cdn.example.com/a.png", Width: 512, Height: 512},
		Prompt:  "a lighthouse, warm lighting",
		Quality: imagegen.QualityMedium,
		Backend: "REPLICATE",
	}

	tests := []struct {
		name     string
		event    imagegen.Event
		wantType string
		wantOK   bool
	}{
		{"initial", imagegen.Event{Kind: imagegen.EventInitial, SlotID: "s1", Prompt: "a lighthouse", Image: img, Time: at}, MessageTypeInitialImage, true},
		{"upgrade", imagegen.Event{Kind: imagegen.EventUpgrade, SlotID: "s1", Image: img}, MessageTypeUpgradeImage, true},
		{"initial without image", imagegen.Event{Kind: imagegen.EventInitial, SlotID: "s1"}, "", false},
		{"failed", imagegen.Event{Kind: imagegen.EventFailed, SlotID: "s2", Reasons: []string{"no backend"}}, MessageTypeGenerationFailed, true},
		{"notice", imagegen.Event{Kind: imagegen.EventNotice, Reasons: []string{"set REPLICATE_API_TOKEN"}}, MessageTypeNotice, true},
		{"completed", imagegen.Event{Kind: imagegen.EventCompleted, SlotID: "s1"}, MessageTypeRunCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := MessageFromEvent(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if msg.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", msg.Type, tt.wantType)
			}
			if msg.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
		})
	}
}

func TestMessageFromEvent_ImagePayload(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	e := imagegen.Event{
		Kind:   imagegen.EventUpgrade,
		SlotID: "slot-7",
		Prompt: "a lighthouse",
		Time:   at,
		Image: &imagegen.GeneratedImage{
			Handle:    &imagegen.ImageHandle{Data: []byte{1, 2, 3}, MIMEType: "image/png", Width: 64, Height: 32},
			Prompt:    "a lighthouse, soft lighting",
			Quality:   imagegen.QualityHigh,
			Backend:   "LOCAL_SD",
			IsUpgrade: true,
		},
	}
	msg, ok := MessageFromEvent(e)
	if !ok {
		t.Fatal("MessageFromEvent() ok = false")
	}
	if !msg.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want event time", msg.Timestamp)
	}
	data, ok := msg.Data.(ImageData)
	if !ok {
		t.Fatalf("Data is %T, want ImageData", msg.Data)
	}
	if data.Quality != "HIGH" || data.Backend != "LOCAL_SD" || !data.IsUpgrade {
		t.Errorf("unexpected payload %+v", data)
	}
	if !strings.HasPrefix(data.URL, "data:image/png;base64,") {
		t.Errorf("URL = %q, want data URL", data.URL)
	}
	if data.Width != 64 || data.Height != 32 {
		t.Errorf("size = %dx%d", data.Width, data.Height)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(raw), `"type":"upgrade_image"`) || !strings.Contains(string(raw), `"slot_id":"slot-7"`) {
		t.Errorf("unexpected JSON %s", raw)
	}
}

func TestMessageFromEvent_NoticeText(t *testing.T) {
	msg, ok := MessageFromEvent(imagegen.Event{Kind: imagegen.EventNotice, Reasons: []string{"first", "second"}})
	if !ok {
		t.Fatal("ok = false")
	}
	if got := msg.Data.(NoticeData).Message; got != "first" {
		t.Errorf("Message = %q, want first", got)
	}
}
