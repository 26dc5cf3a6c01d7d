package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BroadcasterConfig tunes the websocket hub.
type BroadcasterConfig struct {
	PingInterval         time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	MaxMessageSize       int64
	BroadcastBufferSize  int
	ClientSendBufferSize int
	// BacklogSize is how many board messages are replayed to a new client.
	BacklogSize int
}

// DefaultBroadcasterConfig returns the settings used by the server.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		BroadcastBufferSize:  256,
		ClientSendBufferSize: 256,
		BacklogSize:          100,
	}
}

type client struct {
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string
	connectedAt time.Time
}

// Broadcaster pushes board updates to every connected websocket client. It
// implements imagegen.Publisher, so orchestrator events can be fed to it
// directly. A single hub goroutine owns the client set; each client has its
// own writer goroutine, which is the only one writing to its connection.
type Broadcaster struct {
	cfg      BroadcasterConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader
	backlog  *CircularBuffer[[]byte]

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan WSMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	startOnce  sync.Once
	dropped    atomic.Int64
}

// NewBroadcaster creates a hub. Call Start before accepting connections.
func NewBroadcaster(cfg BroadcasterConfig, logger *logging.Logger) *Broadcaster {
	def := DefaultBroadcasterConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.BroadcastBufferSize <= 0 {
		cfg.BroadcastBufferSize = def.BroadcastBufferSize
	}
	if cfg.ClientSendBufferSize <= 0 {
		cfg.ClientSendBufferSize = def.ClientSendBufferSize
	}
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = def.BacklogSize
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		cfg:     cfg,
		logger:  logger.Named("websocket"),
		backlog: NewCircularBuffer[[]byte](cfg.BacklogSize),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the board is served from the same origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		broadcast:  make(chan WSMessage, cfg.BroadcastBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Start runs the hub until ctx is done, then disconnects every client.
func (b *Broadcaster) Start(ctx context.Context) {
	started := false
	b.startOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case c := <-b.register:
			b.add(c)
		case c := <-b.unregister:
			b.remove(c)
		case msg := <-b.broadcast:
			b.deliver(msg)
		}
	}
}

// Done is closed once the hub has stopped.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// HandleConnection upgrades the request and registers the client.
func (b *Broadcaster) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(b.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	})

	c := &client{
		conn:        conn,
		send:        make(chan []byte, b.cfg.ClientSendBufferSize),
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
	}
	select {
	case b.register <- c:
	case <-b.done:
		conn.Close()
		return
	}
	go b.writePump(c)
	go b.readPump(c)
}

// Publish implements imagegen.Publisher.
func (b *Broadcaster) Publish(e imagegen.Event) {
	if msg, ok := MessageFromEvent(e); ok {
		b.BroadcastMessage(msg)
	}
}

// BroadcastMessage queues msg for every client without blocking. When the
// queue is full the message is dropped.
func (b *Broadcaster) BroadcastMessage(msg WSMessage) {
	select {
	case b.broadcast <- msg:
	default:
		b.dropped.Add(1)
		b.logger.Warn("broadcast buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns the number of messages lost to a full broadcast queue.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broadcaster) add(c *client) {
	// replay the board before any live message reaches the client
	for _, data := range b.backlog.All() {
		select {
		case c.send <- data:
		default:
		}
	}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	b.logger.Debug("client connected", zap.String("remote_addr", c.remoteAddr), zap.Int("clients", n))
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.mu.Unlock()
	if ok {
		b.logger.Debug("client disconnected",
			zap.String("remote_addr", c.remoteAddr),
			zap.Duration("connected_for", time.Since(c.connectedAt)),
			zap.Int("clients", n))
	}
}

func (b *Broadcaster) deliver(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal websocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	switch msg.Type {
	case MessageTypeInitialImage, MessageTypeUpgradeImage, MessageTypeGenerationFailed:
		b.backlog.Push(data)
	}

	b.mu.RLock()
	var slow []*client
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("client send buffer full, disconnecting", zap.String("remote_addr", c.remoteAddr))
		b.remove(c)
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	for c := range b.clients {
		close(c.send)
		delete(b.clients, c)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) readPump(c *client) {
	defer func() {
		select {
		case b.unregister <- c:
		case <-b.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("unexpected websocket close", zap.String("remote_addr", c.remoteAddr), zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
