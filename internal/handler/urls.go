package handlers

import (
	"net/http"

	"AlertaPiura/internal/sos"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/config"
	"AlertaPiura/pkg/metrics"
	"AlertaPiura/pkg/middleware"
	"AlertaPiura/pkg/notification"
	"AlertaPiura/pkg/sse"
	"AlertaPiura/pkg/websocket"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	cfg     *config.Config
	svc     *sos.Service
	store   *store.Store
	auth    *middleware.Authenticator
	hub     *websocket.Hub
	stream  *sse.Hub
	push    *notification.WebPush
	metrics *metrics.Metrics

	limiter *middleware.RateLimiter
	idem    middleware.IdemStore
}

// Deps groups what the handlers need. Push, Limiter and Idem may be nil.
type Deps struct {
	Config  *config.Config
	Service *sos.Service
	Store   *store.Store
	Auth    *middleware.Authenticator
	Hub     *websocket.Hub
	Stream  *sse.Hub
	Push    *notification.WebPush
	Metrics *metrics.Metrics
	Limiter *middleware.RateLimiter
	Idem    middleware.IdemStore
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		cfg:     d.Config,
		svc:     d.Service,
		store:   d.Store,
		auth:    d.Auth,
		hub:     d.Hub,
		stream:  d.Stream,
		push:    d.Push,
		metrics: d.Metrics,
		limiter: d.Limiter,
		idem:    d.Idem,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	if h.metrics != nil {
		engine.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	r := engine.Group(h.cfg.APIPrefix)

	// Register System Module Routes
	h.registerSystemRoutes(r)

	// Register Business Module Routes
	h.registerSosRoutes(r)
	h.registerAdminRoutes(r)
	h.registerPushRoutes(r)

	websocket.RegisterRoutes(engine, websocket.NewHandler(h.hub), h.auth.AuthRequired(), middleware.OperatorRequired())
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	r.GET("/healthcheck", h.HealthCheck)

	system := r.Group("system")
	{
		system.GET("/health", h.HealthCheck)
	}
}

// SOS Module
func (h *Handlers) registerSosRoutes(r *gin.RouterGroup) {
	audit := middleware.OperationLogMiddleware(h.store.DB())

	s := r.Group("sos")
	s.Use(h.auth.AuthRequired())
	{
		idem := middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
			TTL:        h.cfg.IdempotencyTTL,
			Store:      h.idem,
			HeaderOnly: true,
		})
		s.POST("/activate", h.rateLimit(), idem, h.handleActivate)

		s.POST("/:id/location", h.rateLimit(), h.handleRecordLocation)

		s.GET("/active", h.handleListActive)

		s.GET("/events", h.handleEventStream)

		s.GET("/all", middleware.OperatorRequired(), h.handleListAll)

		s.GET("/:id", h.handleGetAlert)

		s.GET("/:id/history", h.handleHistory)

		s.PUT("/:id/status", middleware.OperatorRequired(), audit, h.handleUpdateStatus)

		s.POST("/:id/reviewed", middleware.OperatorRequired(), audit, h.handleMarkReviewed)
	}
}

func (h *Handlers) registerAdminRoutes(r *gin.RouterGroup) {
	admin := r.Group("admin")
	admin.Use(h.auth.AuthRequired(), middleware.OperatorRequired())
	{
		admin.GET("/sos-dashboard", h.handleDashboard)

		admin.GET("/sms-log", h.handleSmsLog)
	}
}

func (h *Handlers) registerPushRoutes(r *gin.RouterGroup) {
	push := r.Group("push")
	push.Use(h.auth.AuthRequired(), middleware.OperatorRequired())
	{
		push.GET("/vapid-key", h.handleVapidKey)

		push.POST("/subscribe", h.handlePushSubscribe)

		push.DELETE("/subscribe", h.handlePushUnsubscribe)
	}
}

func (h *Handlers) rateLimit() gin.HandlerFunc {
	if h.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h.limiter.Middleware()
}

// CORS allows the dashboard origin. An empty origin allows any.
func CORS(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, Accept-Language")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
