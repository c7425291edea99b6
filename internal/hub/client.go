package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one connected viewer. The websocket connection may be nil in
// tests; the hub only ever touches the send channel.
type Client struct {
	ID     string
	UserID string

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func NewClient(id, userID string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
	}
}

// Outbox exposes the send channel for the write pump and for tests.
func (c *Client) Outbox() <-chan []byte { return c.send }

// Send enqueues a message directly to this client, bypassing topic fanout.
// It reports whether the message was accepted.
func (c *Client) Send(msg []byte) bool { return c.enqueue(msg) }

// enqueue attempts a non-blocking send. It returns false when the buffer is
// full or the client is already closed.
func (c *Client) enqueue(msg []byte) (ok bool) {
	defer func() {
		// Losing a race with close() is a normal disconnect, not a failure.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// WritePump drains the send channel onto the websocket connection and keeps
// the connection alive with pings. It returns when the hub closes the send
// channel or a write fails.
func (c *Client) WritePump(log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("websocket write failed", "conn_id", c.ID, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
