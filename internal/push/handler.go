package push

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Registry is the durable side of connection bookkeeping
// (push_connections table).
type Registry interface {
	RegisterConnection(ctx context.Context, connectionID, userID string) error
	MarkConnectionInactive(ctx context.Context, connectionID string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Аутентификация живёт во внешнем gateway, сюда приходит уже
		// проверенный userId.
		return true
	},
}

// Handler upgrades GET /ws?userId=... and registers the connection in
// both the hub and the registry.
func Handler(h *Hub, reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade", "error", err.Error())
			return
		}

		connectionID := uuid.NewString()
		if err := reg.RegisterConnection(r.Context(), connectionID, userID); err != nil {
			slog.Error("register push connection", "user_id", userID, "error", err.Error())
			_ = conn.Close()
			return
		}

		c := newClient(connectionID, userID, conn)
		h.register(c)
		slog.Info("push connection opened", "connection_id", connectionID, "user_id", userID)

		go c.writePump()
		go c.readPump(h, func(connectionID string) {
			if err := reg.MarkConnectionInactive(context.Background(), connectionID); err != nil {
				slog.Error("mark connection inactive", "connection_id", connectionID, "error", err.Error())
			}
			slog.Info("push connection closed", "connection_id", connectionID, "user_id", userID)
		})
	}
}
