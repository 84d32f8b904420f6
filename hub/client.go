package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yshengliao/swcache/observability"
)

// Client is one websocket connection
type Client struct {
	ID      string
	Subject string
	hub     *Hub
	conn    *websocket.Conn
	send    chan *Message
	logger  *zap.Logger
}

// NewClient wraps conn. Subject is the authenticated caller, if any.
func NewClient(h *Hub, conn *websocket.Conn, subject string) *Client {
	id := uuid.New().String()
	return &Client{
		ID:      id,
		Subject: subject,
		hub:     h,
		conn:    conn,
		send:    make(chan *Message, h.opts.SendBuffer),
		logger:  h.logger.With(zap.String("client_id", id)),
	}
}

// ReadPump reads frames until the connection fails, answering each through
// the hub handler. It unregisters the client on return.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		var message Message
		if err := c.conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}
		message.ClientID = c.ID
		c.hub.record(func(col *observability.Collector) { col.RecordWebSocketMessage("in", message.Type) })

		var reply *Message
		switch {
		case message.Type == "ping":
			reply = &Message{Type: TypePong, Data: map[string]any{"timestamp": time.Now().Unix()}}
		case opts.Handler != nil:
			reply = opts.Handler(ctx, c, &message)
		}
		if reply == nil {
			continue
		}
		if reply.ID == "" {
			reply.ID = message.ID
		}
		c.hub.SendTo(c.ID, reply)
	}
}

// WritePump writes queued messages and keeps the connection alive with pings.
func (c *Client) WritePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
				return
			}

			if message.Type == TypeClose {
				code := websocket.CloseGoingAway
				reason := "Server shutting down"
				if v, ok := message.Data["code"].(int); ok {
					code = v
				}
				if v, ok := message.Data["reason"].(string); ok {
					reason = v
				}
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("WebSocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve registers the client and runs both pumps until the connection ends.
func (c *Client) Serve(ctx context.Context) {
	if !c.hub.Register(c) {
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
		c.conn.Close()
		return
	}
	go c.WritePump()
	c.ReadPump(ctx)
}
