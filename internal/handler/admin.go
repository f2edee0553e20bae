package handlers

import (
	"net/http"

	"AlertaPiura/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

const defaultSmsLogLimit = 200

// GET /admin/sos-dashboard
func (h *Handlers) handleDashboard(c *gin.Context) {
	alerts, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// GET /admin/sms-log?limit=
func (h *Handlers) handleSmsLog(c *gin.Context) {
	limit := cast.ToInt(c.Query("limit"))
	if limit <= 0 || limit > 1000 {
		limit = defaultSmsLogLimit
	}
	entries, err := h.svc.SmsLog(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
