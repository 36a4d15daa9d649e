package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/notify"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Connection timing
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The admin API binds to loopback
	},
}

// Message is a client request on the stream
type Message struct {
	Type string `json:"type"`
}

// Handler streams runtime notifications over WebSocket
type Handler struct {
	hub     *notify.Hub
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *notify.Hub, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:     hub,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleConnection upgrades the request and forwards notifications until
// either side closes
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	replies := make(chan any, 8)
	done := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go h.read(conn, replies, done, quit)

	if err := h.send(conn, map[string]any{
		"type":      "system",
		"message":   "connected",
		"timestamp": time.Now().Unix(),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(conn, notification(n)); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case reply := <-replies:
			if err := h.send(conn, reply); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// read handles client messages; all writes stay on the connection goroutine
func (h *Handler) read(conn *websocket.Conn, replies chan<- any, done chan<- struct{}, quit <-chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var reply any
		switch msg.Type {
		case "ping":
			reply = map[string]any{"type": "pong"}
		case "recent":
			reply = map[string]any{"type": "recent", "notifications": h.hub.Recent()}
		default:
			reply = map[string]any{
				"type":      "error",
				"message":   "unknown message type",
				"timestamp": time.Now().Unix(),
			}
		}
		select {
		case replies <- reply:
		case <-quit:
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, data any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(data)
}

func notification(n types.Notification) map[string]any {
	return map[string]any{
		"type":         "notification",
		"notification": n,
	}
}
