package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/pkg/response"
)

const (
	writeWait    = 10 * time.Second
	maxReadBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// SessionLookup reports whether a session accepts subscribers.
type SessionLookup func(ctx context.Context, sessionID string) bool

// wsTransport adapts a gorilla connection to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return t.conn.Close()
}

// ServeWs handles GET /ws/:id: it upgrades the connection, subscribes it to the
// session and runs the read loop. validate, when set, checks the token query
// parameter before upgrading.
func ServeWs(hub *Hub, active SessionLookup, validate func(token string) error, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		if validate != nil {
			if err := validate(c.Query("token")); err != nil {
				response.Unauthorized(c, "invalid token")
				return
			}
		}
		if !active(c.Request.Context(), sessionID) {
			response.NotFound(c, "session not found or not active")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		sub := hub.Subscribe(sessionID, &wsTransport{conn: conn})
		readPump(hub, sub, conn, logger)
	}
}

// readPump consumes client frames. Any frame or pong counts as liveness; a
// ping message is answered with pong through the subscriber's queue.
func readPump(hub *Hub, sub *Subscription, conn *websocket.Conn, logger *zap.Logger) {
	defer hub.Unsubscribe(sub)

	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		hub.Touch(sub)
		return conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait))
	})

	pong, _ := json.Marshal(models.ControlMessage{Type: models.MessagePong})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("push channel disconnected", zap.Error(err),
				zap.String("subscription_id", sub.ID), zap.String("session_id", sub.SessionID))
			return
		}
		hub.Touch(sub)
		_ = conn.SetReadDeadline(time.Now().Add(hub.cfg.PongWait))

		var msg models.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == models.MessagePing {
			sub.enqueue(pong)
		}
	}
}
