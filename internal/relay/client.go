package relay

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zulandar/ledgerline/internal/auth"
)

// Client is one authenticated websocket connection. All writes go through
// writePump; Send only queues.
type Client struct {
	ID        string
	Principal auth.Principal

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newClient(conn *websocket.Conn, p auth.Principal, buffer int) *Client {
	return &Client{
		ID:        uuid.NewString(),
		Principal: p,
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
}

// UserID returns the authenticated user.
func (c *Client) UserID() uint { return c.Principal.UserID }

// Send queues payload. A full buffer means the peer is not keeping up; the
// connection is closed rather than blocking the sender.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		log.Printf("relay: connection %s (user %d) buffer full, closing", c.ID, c.UserID())
		c.Close(CloseConnectionError, "send buffer full")
		return false
	}
}

// Close asks writePump to send a close frame with code and drop the
// connection. Only the first call has effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} { return c.done }

// readPump reads frames until the connection fails, handing each text frame
// to handle.
func (c *Client) readPump(cfg timing, handle func([]byte)) {
	c.conn.SetReadLimit(cfg.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("relay: connection %s read: %v", c.ID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.readTimeout))
		handle(message)
	}
}

// writePump owns every write to the connection.
func (c *Client) writePump(cfg timing) {
	ticker := time.NewTicker(cfg.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("relay: connection %s write: %v", c.ID, err)
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.flush(cfg)
			closeWith(c.conn, c.closeCode, c.closeReason, cfg.writeTimeout)
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *Client) flush(cfg timing) {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// closeWith sends a close frame. Codes that may not appear on the wire
// (1005, 1006) are sent as an empty close frame.
func closeWith(conn *websocket.Conn, code int, reason string, timeout time.Duration) {
	var payload []byte
	if code != websocket.CloseAbnormalClosure && code != websocket.CloseNoStatusReceived && code != 0 {
		payload = websocket.FormatCloseMessage(code, reason)
	}
	_ = conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(timeout))
}

// timing is the subset of relay settings the pumps need.
type timing struct {
	pingInterval    time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	maxMessageBytes int64
}
