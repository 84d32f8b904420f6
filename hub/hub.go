// Package hub keeps the websocket clients of the control API. Clients post
// runtime messages through it and receive lifecycle notifications.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yshengliao/swcache/observability"
)

// Message types the hub itself produces
const (
	TypeWelcome  = "welcome"
	TypeReply    = "reply"
	TypeError    = "error"
	TypePong     = "pong"
	TypeClose    = "close"
	TypeShutdown = "server_shutdown"
)

// Message is one JSON frame on the channel. Payload stays raw so the
// handler can decode it into its own message type.
type Message struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Data     map[string]any  `json:"data,omitempty"`
	Target   string          `json:"target,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
}

// Handler answers a message read from client. A nil reply sends nothing.
type Handler func(ctx context.Context, client *Client, msg *Message) *Message

// Options tunes the client pumps.
type Options struct {
	MaxMessageSize int64
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	SendBuffer     int

	Handler   Handler
	Collector *observability.Collector
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type countRequest struct {
	response chan int
}

type metricsRequest struct {
	response chan *Metrics
}

// Metrics describes hub traffic
type Metrics struct {
	CurrentConnections int              `json:"current_connections"`
	TotalConnections   int64            `json:"total_connections"`
	MessagesSent       int64            `json:"messages_sent"`
	MessagesRouted     int64            `json:"messages_routed"`
	MessageTypes       map[string]int64 `json:"message_types"`
	LastMessageTime    time.Time        `json:"last_message_time"`
	Uptime             time.Duration    `json:"uptime"`
}

// Hub owns the client set. All mutations happen on the Run goroutine, and
// only Run writes to or closes a client's send channel.
type Hub struct {
	opts Options

	clients      map[*Client]bool
	route        chan *Message
	register     chan *Client
	unregister   chan *Client
	clientCount  chan countRequest
	metricsReq   chan metricsRequest
	logger       *zap.Logger
	shutdown     chan struct{}
	shutdownDone chan struct{}
	closing      atomic.Bool

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	messagesRouted   atomic.Int64
	messageTypes     map[string]int64
	lastMessageTime  time.Time
	startTime        time.Time
}

// NewHub creates a hub; call Run to start it.
func NewHub(logger *zap.Logger, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		opts:         opts.withDefaults(),
		clients:      make(map[*Client]bool),
		route:        make(chan *Message, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		clientCount:  make(chan countRequest),
		metricsReq:   make(chan metricsRequest),
		logger:       logger,
		shutdown:     make(chan struct{}),
		shutdownDone: make(chan struct{}),
		messageTypes: make(map[string]int64),
		startTime:    time.Now(),
	}
}

// Run is the hub loop.
func (h *Hub) Run() {
	defer close(h.shutdownDone)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.route:
			h.deliver(message)

		case req := <-h.clientCount:
			req.response <- len(h.clients)

		case req := <-h.metricsReq:
			metrics := &Metrics{
				CurrentConnections: len(h.clients),
				TotalConnections:   h.totalConnections.Load(),
				MessagesSent:       h.messagesSent.Load(),
				MessagesRouted:     h.messagesRouted.Load(),
				MessageTypes:       make(map[string]int64, len(h.messageTypes)),
				LastMessageTime:    h.lastMessageTime,
				Uptime:             time.Since(h.startTime),
			}
			for k, v := range h.messageTypes {
				metrics.MessageTypes[k] = v
			}
			req.response <- metrics

		case <-h.shutdown:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) closeAll() {
drain:
	for {
		select {
		case m := <-h.route:
			h.deliver(m)
		default:
			break drain
		}
	}

	h.logger.Info("Closing all client connections", zap.Int("count", len(h.clients)))

	closeMsg := &Message{
		Type: TypeClose,
		Data: map[string]any{
			"code":   1001,
			"reason": "Server is shutting down",
		},
	}
	for client := range h.clients {
		select {
		case client.send <- closeMsg:
		default:
		}
	}
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		h.record(func(c *observability.Collector) { c.RecordWebSocketConnection(false) })
	}
	h.logger.Info("Hub shutdown complete")
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true
	h.totalConnections.Add(1)
	h.record(func(c *observability.Collector) { c.RecordWebSocketConnection(true) })

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("subject", client.Subject))

	welcome := &Message{
		Type:     TypeWelcome,
		ClientID: client.ID,
		Data:     map[string]any{"client_id": client.ID},
	}
	h.send(client, welcome)
}

func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.record(func(c *observability.Collector) { c.RecordWebSocketConnection(false) })

	h.logger.Info("Client disconnected",
		zap.String("client_id", client.ID),
		zap.String("subject", client.Subject))
}

func (h *Hub) deliver(message *Message) {
	h.messagesRouted.Add(1)
	h.lastMessageTime = time.Now()
	if message.Type != "" {
		h.messageTypes[message.Type]++
	}

	for client := range h.clients {
		if message.Target != "" && client.ID != message.Target && client.Subject != message.Target {
			continue
		}
		h.send(client, message)
	}
}

// send runs on the hub loop only.
func (h *Hub) send(client *Client, message *Message) {
	select {
	case client.send <- message:
		h.messagesSent.Add(1)
		h.record(func(c *observability.Collector) { c.RecordWebSocketMessage("out", message.Type) })
	default:
		h.logger.Warn("Client send channel full, closing", zap.String("client_id", client.ID))
		h.unregisterClient(client)
	}
}

func (h *Hub) record(fn func(c *observability.Collector)) {
	if h.opts.Collector != nil {
		fn(h.opts.Collector)
	}
}

func (h *Hub) removeClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.shutdown:
	}
}

// Register adds client to the hub. It returns false once the hub is
// shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.shutdown:
		return false
	}
}

// Broadcast sends message to every client.
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.route <- message:
	case <-h.shutdown:
	default:
		h.logger.Warn("Route channel full, dropping message", zap.String("type", message.Type))
	}
}

// SendTo sends message to the client whose ID or subject is target.
func (h *Hub) SendTo(target string, message *Message) {
	message.Target = target
	h.Broadcast(message)
}

// ConnectedClients returns the number of connected clients
func (h *Hub) ConnectedClients() int {
	req := countRequest{response: make(chan int, 1)}
	select {
	case h.clientCount <- req:
		return <-req.response
	case <-h.shutdown:
		return 0
	}
}

// Metrics returns a snapshot of hub traffic
func (h *Hub) Metrics() *Metrics {
	req := metricsRequest{response: make(chan *Metrics, 1)}
	select {
	case h.metricsReq <- req:
		return <-req.response
	case <-h.shutdown:
		return &Metrics{Uptime: time.Since(h.startTime)}
	}
}

// Shutdown notifies clients, closes them and waits for the loop to stop,
// at most until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}
	h.logger.Info("Hub shutdown initiated")

	notice := &Message{
		Type: TypeShutdown,
		Data: map[string]any{"time": time.Now().Unix()},
	}
	select {
	case h.route <- notice:
	default:
		h.logger.Warn("Could not broadcast shutdown message")
	}

	close(h.shutdown)
	select {
	case <-h.shutdownDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}
