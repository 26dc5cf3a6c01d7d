package imagegen

import (
	"sync"
	"time"
)

// EventKind identifies what an orchestrator event reports.
type EventKind string

const (
	// EventInitial creates a new slot; it is published at most once per run.
	EventInitial EventKind = "initial"
	// EventUpgrade replaces the image in an existing slot.
	EventUpgrade EventKind = "upgrade"
	// EventFailed reports that no quality level produced an image.
	EventFailed EventKind = "failed"
	// EventNotice carries a user-facing message about a backend problem
	// (missing credentials, rate limits, quota) that did not stop the run.
	EventNotice EventKind = "notice"
	// EventCompleted marks the end of a run's sequence.
	EventCompleted EventKind = "completed"
)

// GeneratedImage is one successful rendition. It is immutable once
// published; the orchestrator keeps no reference to it.
type GeneratedImage struct {
	Handle    *ImageHandle
	Prompt    string // prompt the backend actually rendered
	Quality   Quality
	Backend   string
	IsUpgrade bool
	Enhanced  bool
	CreatedAt time.Time
}

// Event is delivered to Publishers.
type Event struct {
	Kind    EventKind
	SlotID  string
	Prompt  string // prompt as submitted
	Image   *GeneratedImage
	Reasons []string
	Time    time.Time
}

// Publisher receives orchestrator events. Publish is called from run
// goroutines and must not block for long.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// MultiPublisher fans events out to every member in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// ChannelPublisher forwards events to a buffered channel. When the buffer is
// full the event is dropped and counted rather than blocking generation.
type ChannelPublisher struct {
	ch chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChannelPublisher creates a publisher with the given buffer size.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelPublisher{ch: make(chan Event, buffer)}
}

// Events returns the receive side.
func (c *ChannelPublisher) Events() <-chan Event {
	return c.ch
}

func (c *ChannelPublisher) Publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
	}
}

// Dropped returns the number of events lost to a full buffer.
func (c *ChannelPublisher) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the channel. Later Publish calls are ignored.
func (c *ChannelPublisher) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
