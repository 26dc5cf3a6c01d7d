package webui

import (
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
)

// Message types pushed to board clients.
const (
	MessageTypeInitialImage     = "initial_image"
	MessageTypeUpgradeImage     = "upgrade_image"
	MessageTypeGenerationFailed = "generation_failed"
	MessageTypeNotice           = "notice"
	MessageTypeRunCompleted     = "run_completed"
	MessageTypePromptQueued     = "prompt_queued"
)

// WSMessage is the envelope for every websocket message.
type WSMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewWSMessage stamps a message with the current time.
func NewWSMessage(msgType string, data any) WSMessage {
	return WSMessage{Type: msgType, Timestamp: time.Now(), Data: data}
}

// ImageData describes an image that creates or replaces a board slot. URL
// is either a remote URL or a data: URL.
type ImageData struct {
	SlotID    string `json:"slot_id"`
	Prompt    string `json:"prompt"`
	Rendered  string `json:"rendered_prompt"`
	Quality   string `json:"quality"`
	Backend   string `json:"backend"`
	URL       string `json:"url"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	IsUpgrade bool   `json:"is_upgrade"`
	Enhanced  bool   `json:"enhanced,omitempty"`
}

// FailureData follows a run that produced no image at all.
type FailureData struct {
	SlotID  string   `json:"slot_id"`
	Prompt  string   `json:"prompt"`
	Reasons []string `json:"reasons"`
}

// NoticeData carries a user-facing backend problem, such as a missing
// token.
type NoticeData struct {
	SlotID  string `json:"slot_id,omitempty"`
	Message string `json:"message"`
}

// RunData marks the end of a run's upgrades.
type RunData struct {
	SlotID string `json:"slot_id"`
}

// QueuedData acknowledges a submitted prompt.
type QueuedData struct {
	Prompt   string `json:"prompt"`
	Position int    `json:"position"`
	Replaced bool   `json:"replaced"`
}

// MessageFromEvent converts an orchestrator event. Events without a wire
// representation return false.
func MessageFromEvent(e imagegen.Event) (WSMessage, bool) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := WSMessage{Timestamp: ts}

	switch e.Kind {
	case imagegen.EventInitial, imagegen.EventUpgrade:
		if e.Image == nil {
			return WSMessage{}, false
		}
		msg.Type = MessageTypeInitialImage
		if e.Kind == imagegen.EventUpgrade {
			msg.Type = MessageTypeUpgradeImage
		}
		data := ImageData{
			SlotID:    e.SlotID,
			Prompt:    e.Prompt,
			Rendered:  e.Image.Prompt,
			Quality:   e.Image.Quality.String(),
			Backend:   e.Image.Backend,
			IsUpgrade: e.Image.IsUpgrade,
			Enhanced:  e.Image.Enhanced,
		}
		if h := e.Image.Handle; h != nil {
			data.URL = h.Location()
			data.Width, data.Height = h.Width, h.Height
		}
		msg.Data = data
	case imagegen.EventFailed:
		msg.Type = MessageTypeGenerationFailed
		msg.Data = FailureData{SlotID: e.SlotID, Prompt: e.Prompt, Reasons: e.Reasons}
	case imagegen.EventNotice:
		text := ""
		if len(e.Reasons) > 0 {
			text = e.Reasons[0]
		}
		msg.Type = MessageTypeNotice
		msg.Data = NoticeData{SlotID: e.SlotID, Message: text}
	case imagegen.EventCompleted:
		msg.Type = MessageTypeRunCompleted
		msg.Data = RunData{SlotID: e.SlotID}
	default:
		return WSMessage{}, false
	}
	return msg, true
}
