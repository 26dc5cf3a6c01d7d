package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/imagegen"

	"github.com/gorilla/websocket"
)

func startBroadcaster(t *testing.T, cfg BroadcasterConfig) (*Broadcaster, *httptest.Server, context.CancelFunc) {
	t.Helper()
	b := NewBroadcaster(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Start(ctx)
	srv := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return b, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid JSON %s: %v", data, err)
	}
	return msg
}

func initialEvent(slot string) imagegen.Event {
	return imagegen.Event{
		Kind:   imagegen.EventInitial,
		SlotID: slot,
		Prompt: "a quiet harbor",
		Image: &imagegen.GeneratedImage{
			Handle:  &imagegen.ImageHandle{URL: "https://cdn.example.com/" + slot + ".png"},
			Quality: imagegen.QualityLow,
			Backend: "REPLICATE",
		},
	}
}

func TestBroadcaster_PublishReachesClients(t *testing.T) {
	b, srv, _ := startBroadcaster(t, DefaultBroadcasterConfig())
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitFor(t, "two clients", func() bool { return b.ClientCount() == 2 })

	b.Publish(initialEvent("slot-1"))

	for i, c := range []*websocket.Conn{c1, c2} {
		msg := readMessage(t, c)
		if msg["type"] != MessageTypeInitialImage {
			t.Errorf("client %d type = %v", i, msg["type"])
		}
		data := msg["data"].(map[string]any)
		if data["slot_id"] != "slot-1" || data["url"] != "https://cdn.example.com/slot-1.png" {
			t.Errorf("client %d data = %v", i, data)
		}
	}
}

func TestBroadcaster_ReplaysBoardToNewClient(t *testing.T) {
	b, srv, _ := startBroadcaster(t, BroadcasterConfig{BacklogSize: 2})

	b.Publish(initialEvent("slot-1"))
	b.Publish(imagegen.Event{Kind: imagegen.EventNotice, Reasons: []string{"not replayed"}})
	b.Publish(initialEvent("slot-2"))
	b.Publish(initialEvent("slot-3"))
	waitFor(t, "backlog", func() bool {
		all := b.backlog.All()
		return len(all) == 2 && strings.Contains(string(all[1]), "slot-3")
	})

	conn := dial(t, srv)
	for _, want := range []string{"slot-2", "slot-3"} {
		msg := readMessage(t, conn)
		if got := msg["data"].(map[string]any)["slot_id"]; got != want {
			t.Errorf("replayed slot = %v, want %s", got, want)
		}
	}
}

func TestBroadcaster_SkipsEventsWithoutWireForm(t *testing.T) {
	b, _, _ := startBroadcaster(t, DefaultBroadcasterConfig())
	b.Publish(imagegen.Event{Kind: imagegen.EventInitial, SlotID: "no-image"})
	if len(b.broadcast) != 0 {
		t.Error("event without image was queued")
	}
}

func TestBroadcaster_ClientDisconnect(t *testing.T) {
	b, srv, _ := startBroadcaster(t, DefaultBroadcasterConfig())
	conn := dial(t, srv)
	waitFor(t, "client", func() bool { return b.ClientCount() == 1 })

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitFor(t, "disconnect", func() bool { return b.ClientCount() == 0 })
}

func TestBroadcaster_ShutdownClosesClients(t *testing.T) {
	b, srv, cancel := startBroadcaster(t, DefaultBroadcasterConfig())
	conn := dial(t, srv)
	waitFor(t, "client", func() bool { return b.ClientCount() == 1 })

	cancel()
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after shutdown", b.ClientCount())
	}
}

func TestBroadcaster_BroadcastDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{BroadcastBufferSize: 1}, nil)
	// hub not started, so nothing drains the queue
	b.BroadcastMessage(NewWSMessage(MessageTypeNotice, NoticeData{Message: "one"}))
	b.BroadcastMessage(NewWSMessage(MessageTypeNotice, NoticeData{Message: "two"}))
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestBroadcaster_StartTwice(t *testing.T) {
	b := NewBroadcaster(DefaultBroadcasterConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.Start(ctx)
	select {
	case <-b.Done():
	default:
		t.Fatal("Done() not closed after Start returned")
	}
	// a second call must not run another hub or close done twice
	b.Start(ctx)
}

func TestBroadcaster_HandleConnectionAfterStop(t *testing.T) {
	b := NewBroadcaster(DefaultBroadcasterConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Start(ctx)

	srv := httptest.NewServer(http.HandlerFunc(b.HandleConnection))
	defer srv.Close()
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed by a stopped hub")
	}
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d", b.ClientCount())
	}
}
