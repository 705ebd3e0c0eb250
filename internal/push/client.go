package push

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 2048
)

// Client is one registered live channel. The tracking push path is
// one-way: inbound frames beyond ping/pong are ignored.
type Client struct {
	ConnectionID string
	UserID       string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newClient(connectionID, userID string, conn *websocket.Conn) *Client {
	return &Client{
		ConnectionID: connectionID,
		UserID:       userID,
		conn:         conn,
		send:         make(chan []byte, 64),
		done:         make(chan struct{}),
	}
}

func (c *Client) readPump(h *Hub, onClose func(connectionID string)) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		if onClose != nil {
			onClose(c.ConnectionID)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("push connection read", "connection_id", c.ConnectionID, "error", err.Error())
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
