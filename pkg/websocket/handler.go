package websocket

import (
	"net/http"
	"time"

	constants "AlertaPiura/pkg/constant"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Handler WebSocket HTTP处理器
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes mounts the socket on r. auth must authenticate the upgrade
// request; stats also pass through operator. Health stays public.
func RegisterRoutes(r gin.IRoutes, handler *Handler, auth, operator gin.HandlerFunc) {
	r.GET(RouteWebSocket, auth, handler.HandleWebSocket)
	r.GET(RouteWebSocketStats, auth, operator, handler.GetStats)
	r.GET(RouteWebSocketHealth, handler.HealthCheck)
}

// HandleWebSocket upgrades an authenticated request.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get(constants.UserIDField)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
		return
	}
	uid := cast.ToString(userID)

	if _, err := HandleWebSocket(h.hub, c.Writer, c.Request, uid); err != nil {
		logrus.Warnf("websocket rejected for user %s: %v", uid, err)
	}
}

// GetStats 获取WebSocket统计信息
func (h *Handler) GetStats(c *gin.Context) {
	stats := GetConfigSummary(h.hub.config)
	stats["total_connections"] = h.hub.GetConnectionCount()
	c.JSON(http.StatusOK, stats)
}

// HealthCheck WebSocket健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	if !h.hub.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "websocket hub closed",
		})
		return
	}

	totalConnections := h.hub.GetConnectionCount()
	maxConnections := h.hub.config.MaxConnections

	status := "healthy"
	if totalConnections >= maxConnections*9/10 { // 90%以上认为警告
		status = "warning"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"total_connections": totalConnections,
		"max_connections":   maxConnections,
		"connection_usage":  float64(totalConnections) / float64(maxConnections) * 100,
		"hub_running":       true,
		"timestamp":         time.Now().Unix(),
	})
}
