package push

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrConnectionGone reports that the handle points at a closed channel;
// the dispatcher reacts by marking the registration inactive.
var ErrConnectionGone = errors.New("push connection gone")

// Hub keeps the live WebSocket channels of this process, keyed by
// connection id. The durable registry lives in push_connections; the
// hub only answers "can I write to this handle right now".
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ConnectionID] = c
	h.mu.Unlock()
}

// unregister retires a client. The send channel itself is never
// closed: a Send racing the disconnect must not panic, so writePump is
// stopped through the done signal instead.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.ConnectionID]; ok && cur == c {
		delete(h.clients, c.ConnectionID)
		close(c.done)
	}
	h.mu.Unlock()
}

// Send writes a payload to one connection. A missing or saturated
// channel is ErrConnectionGone, not a hard failure: the message row is
// already persisted and will surface from history.
func (h *Hub) Send(connectionID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrConnectionGone, "connection %s", connectionID)
	}

	select {
	case <-c.done:
		return errors.Wrapf(ErrConnectionGone, "connection %s", connectionID)
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		// Писатель завис: снимаем клиента, он переподключится.
		h.unregister(c)
		_ = c.conn.Close()
		return errors.Wrapf(ErrConnectionGone, "connection %s stalled", connectionID)
	}
}

func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
