package handlers

import (
	"net/http"
	"strconv"

	"AlertaPiura/internal/sos"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/middleware"
	"AlertaPiura/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type activateRequest struct {
	Lat               *float64              `json:"lat"`
	Lon               *float64              `json:"lon"`
	EmergencyContact  *sos.EmergencyContact `json:"emergencyContact"`
	DurationInSeconds *int64                `json:"durationInSeconds"`
}

func viewer(c *gin.Context) sos.Viewer {
	user, _ := middleware.CurrentUser(c)
	return sos.Viewer{UserID: user.ID, Operator: user.IsOperator()}
}

func alertID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Abort(c, http.StatusBadRequest, "invalid_alert_id")
		return 0, false
	}
	return id, true
}

// bindOptional accepts an empty body as the zero request.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		response.Abort(c, http.StatusBadRequest, "invalid_body")
		return false
	}
	return true
}

// POST /sos/activate
func (h *Handlers) handleActivate(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req activateRequest
	if !bindOptional(c, &req) {
		return
	}
	alert, err := h.svc.Activate(c.Request.Context(), sos.ActivateInput{
		UserID:           user.ID,
		Location:         sos.Coordinates{Lat: req.Lat, Lon: req.Lon},
		EmergencyContact: req.EmergencyContact,
		DurationSeconds:  req.DurationInSeconds,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": response.T(c, "sos_activated"), "alert": alert})
}

// POST /sos/:id/location
func (h *Handlers) handleRecordLocation(c *gin.Context) {
	id, ok := alertID(c)
	if !ok {
		return
	}
	var req sos.Coordinates
	if !bindOptional(c, &req) {
		return
	}
	if err := h.svc.RecordLocation(c.Request.Context(), id, req); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusOK, "location_updated")
}

// PUT /sos/:id/status
func (h *Handlers) handleUpdateStatus(c *gin.Context) {
	id, ok := alertID(c)
	if !ok {
		return
	}
	var patch store.Patch
	if !bindOptional(c, &patch) {
		return
	}
	alert, err := h.svc.UpdateStatus(c.Request.Context(), id, patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// POST /sos/:id/reviewed
func (h *Handlers) handleMarkReviewed(c *gin.Context) {
	id, ok := alertID(c)
	if !ok {
		return
	}
	if err := h.svc.MarkReviewed(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /sos/:id/history
func (h *Handlers) handleHistory(c *gin.Context) {
	id, ok := alertID(c)
	if !ok {
		return
	}
	points, err := h.svc.HistoryFor(c.Request.Context(), id, viewer(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// GET /sos/:id
func (h *Handlers) handleGetAlert(c *gin.Context) {
	id, ok := alertID(c)
	if !ok {
		return
	}
	alert, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, alert.For(viewer(c)))
}

// GET /sos/active
func (h *Handlers) handleListActive(c *gin.Context) {
	alerts, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	w := viewer(c)
	for i := range alerts {
		alerts[i] = alerts[i].For(w)
	}
	c.JSON(http.StatusOK, alerts)
}

// GET /sos/all
func (h *Handlers) handleListAll(c *gin.Context) {
	alerts, err := h.svc.ListAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// GET /sos/events streams the same events the socket carries.
func (h *Handlers) handleEventStream(c *gin.Context) {
	if h.stream == nil {
		response.Abort(c, http.StatusServiceUnavailable, "stream_disabled")
		return
	}
	user, _ := middleware.CurrentUser(c)
	clientID := strconv.FormatInt(user.ID, 10) + ":" + uuid.NewString()
	h.stream.Serve(c, clientID)
}
