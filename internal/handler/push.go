package handlers

import (
	"net/http"
	"strings"

	"AlertaPiura/internal/models"
	"AlertaPiura/pkg/middleware"
	"AlertaPiura/pkg/notification"
	"AlertaPiura/pkg/response"

	"github.com/gin-gonic/gin"
)

// pushSubscriptionRequest matches the browser PushSubscription.toJSON() shape.
type pushSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

func (h *Handlers) pushEnabled(c *gin.Context) bool {
	if h.push == nil {
		response.Abort(c, http.StatusServiceUnavailable, "push_disabled")
		return false
	}
	return true
}

// GET /push/vapid-key
func (h *Handlers) handleVapidKey(c *gin.Context) {
	if !h.pushEnabled(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.push.PublicKey()})
}

// POST /push/subscribe
func (h *Handlers) handlePushSubscribe(c *gin.Context) {
	if !h.pushEnabled(c) {
		return
	}
	var req pushSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || !strings.HasPrefix(req.Endpoint, "https://") {
		response.Abort(c, http.StatusBadRequest, "invalid_subscription")
		return
	}
	user, _ := middleware.CurrentUser(c)
	sub := &models.PushSubscription{
		IDUsuario: user.ID,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
	}
	if err := h.store.SavePushSubscription(c.Request.Context(), sub); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// DELETE /push/subscribe
func (h *Handlers) handlePushUnsubscribe(c *gin.Context) {
	var req notification.Subscription
	if err := c.ShouldBindJSON(&req); err != nil || req.Endpoint == "" {
		response.Abort(c, http.StatusBadRequest, "invalid_subscription")
		return
	}
	if err := h.store.DeletePushSubscription(c.Request.Context(), req.Endpoint); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
