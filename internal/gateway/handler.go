package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// The workspace frontend is served from a different origin in dev;
		// restrict in production deployments.
		return true
	},
}

// Handler exposes the coaching gateway over HTTP.
type Handler struct {
	manager *Manager
	log     *zap.Logger
}

func NewHandler(manager *Manager, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{manager: manager, log: log}
}

// Register mounts the gateway routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws/coach", h.serveCoach)
	e.GET("/healthz", h.health)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.manager.Count(),
	})
}

// serveCoach upgrades to a WebSocket and hands the connection to a session.
func (h *Handler) serveCoach(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return nil
	}
	h.manager.Create(conn)
	return nil
}
