package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "AlertaPiura/internal/handler"
	"AlertaPiura/internal/listeners"
	"AlertaPiura/internal/realtime"
	"AlertaPiura/internal/sos"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/cache"
	"AlertaPiura/pkg/config"
	"AlertaPiura/pkg/i18n"
	"AlertaPiura/pkg/logger"
	"AlertaPiura/pkg/metrics"
	"AlertaPiura/pkg/middleware"
	"AlertaPiura/pkg/notification"
	"AlertaPiura/pkg/scheduler"
	"AlertaPiura/pkg/sse"
	"AlertaPiura/pkg/util"
	"AlertaPiura/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, cfg.DBDebug)
	if err != nil {
		return err
	}
	st := store.New(db)
	// the account table belongs to the user module unless we run alone on sqlite
	if err := st.Migrate(cfg.DBDriver == "sqlite"); err != nil {
		return err
	}
	if err := db.AutoMigrate(&middleware.OperationLog{}); err != nil {
		return err
	}

	m := metrics.NewMetrics()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	c, err := cache.NewCacheWithOptions(cache.Config{
		Type:  cfg.Cache.Type,
		Redis: cache.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, Prefix: "alertapiura:"},
	}, cache.DefaultOptions())
	if err != nil {
		return err
	}
	defer c.Close()

	// realtime
	wsCfg := websocket.LoadConfigFromEnv()
	if err := websocket.ValidateConfig(wsCfg); err != nil {
		return err
	}
	hub := websocket.NewHub(wsCfg)
	hub.OnConnections = m.SocketConnections
	hub.OnDrop = func(reason string) { m.DeliveryDropped("websocket_" + reason) }
	stream := sse.NewHub(30 * time.Second)
	stream.OnSubscribers = m.StreamSubscribers
	stream.OnDrop = func() { m.DeliveryDropped("sse") }

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = wsCfg.ClusterNodeID
	}
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	events := realtime.NewBroadcaster(realtime.Options{
		Lanes:      cfg.SOS.DispatchLanes,
		LaneBuffer: cfg.SOS.LaneBuffer,
		NodeID:     nodeID,
	}, m, realtime.HubSink{Hub: hub}, realtime.StreamSink{Hub: stream}).WithRooms(hub)

	if wsCfg.EnableCluster {
		if rdb == nil {
			return errors.New("WEBSOCKET_ENABLE_CLUSTER requires REDIS_ADDR")
		}
		go realtime.NewRelay(rdb, wsCfg.ClusterChannel, events).Run(ctx)
	}

	// lifecycle
	sms := notification.NewSMS(cfg.SMS.Provider, cfg.SMS.URL, cfg.SMS.APIKey, cfg.SMS.Timeout)
	svc := sos.NewService(st, events, sms, sos.NewUsers(st, c, cfg.Cache.TTL, m), m, sos.Options{
		DefaultDuration: cfg.SOS.DefaultDuration,
		NotifyTimeout:   cfg.SMS.Timeout,
	})

	var push *notification.WebPush
	if cfg.Push.Enabled() {
		push = notification.NewWebPush(notification.WebPushConfig{
			PublicKey:  cfg.Push.VAPIDPublicKey,
			PrivateKey: cfg.Push.VAPIDPrivateKey,
			Subscriber: cfg.Push.Subscriber,
		})
		push.OnResult = m.WebPush
	}
	listeners.InitAlertListeners(util.Sig(), st, push, 0)

	cron := scheduler.NewCron(time.UTC)
	if cfg.SOS.OverdueSweep != "" {
		sweeper := sos.NewOverdueSweeper(svc, 0, 0)
		if _, err := cron.AddWithCtx(cfg.SOS.OverdueSweep, func(ctx context.Context) { sweeper.Run(ctx) }); err != nil {
			return err
		}
	}
	cron.Start()
	defer cron.Stop()

	// http
	var limitStore limiter.Store
	if rdb != nil {
		if limitStore, err = middleware.NewRedisStore(rdb); err != nil {
			return err
		}
	}
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate: cfg.RateLimit.Rate,
		PerRouteRates: map[string]string{
			cfg.APIPrefix + "/sos/:id/location": cfg.RateLimit.Location,
		},
		Identifier:     "user",
		WhitelistCIDRs: cfg.RateLimit.Whitelist,
		BlacklistCIDRs: cfg.RateLimit.Blacklist,
		AddHeaders:     true,
	}, limitStore).WithObserver(middleware.NewPrometheusObserver(m.Registry()))

	bundle, err := i18n.NewI18nSupport(cfg.Language)
	if err != nil {
		return err
	}

	if cfg.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), handlers.CORS(cfg.CORSOrigin), metrics.MonitorMiddleware(m), middleware.LanguageMiddleware(bundle))

	handlers.NewHandlers(handlers.Deps{
		Config:  cfg,
		Service: svc,
		Store:   st,
		Auth:    middleware.NewAuthenticator(cfg.JWTSecret),
		Hub:     hub,
		Stream:  stream,
		Push:    push,
		Metrics: m,
		Limiter: rl,
		Idem:    middleware.CacheIdemStore{Cache: c},
	}).Register(engine)

	srv := &http.Server{Addr: cfg.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr), zap.String("node", nodeID))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	events.Close()
	hub.Close()
	return nil
}
