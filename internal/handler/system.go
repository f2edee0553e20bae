package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	// 检查数据库连接
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	body := gin.H{"status": "healthy", "timestamp": time.Now().Unix()}
	if h.hub != nil {
		body["ws_connections"] = h.hub.GetConnectionCount()
	}
	if h.stream != nil {
		body["sse_clients"] = h.stream.Count()
	}
	c.JSON(http.StatusOK, body)
}
