package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/parley/server/api/rest"
	"github.com/kasuganosora/parley/server/api/sse"
	apows "github.com/kasuganosora/parley/server/api/ws"
	"github.com/kasuganosora/parley/server/audit"
	"github.com/kasuganosora/parley/server/cache"
	"github.com/kasuganosora/parley/server/chat"
	"github.com/kasuganosora/parley/server/config"
	dbadapter "github.com/kasuganosora/parley/server/db"
	"github.com/kasuganosora/parley/server/dm"
	"github.com/kasuganosora/parley/server/gateway"
	"github.com/kasuganosora/parley/server/message"
	"github.com/kasuganosora/parley/server/metrics"
	mw "github.com/kasuganosora/parley/server/middleware"
	"github.com/kasuganosora/parley/server/model"
	"github.com/kasuganosora/parley/server/scheduler"
	"github.com/kasuganosora/parley/server/social"
	"github.com/kasuganosora/parley/server/user"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub init failed", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Services ----
	users := user.NewService(db, c, cfg.Chat.UsernameTTL, logger)
	dms := dm.NewService(db, users, logger)
	messages := message.NewService(db, cfg.Chat.MaxMessageLen, logger)
	socialSvc := social.NewService(db, users, dms, auditSvc, logger)
	hub := gateway.NewHub(c, logger)
	chatSvc := chat.NewService(messages, users, hub, pubsub, logger)

	// ---- Periodic Scheduler Tasks ----
	sched := scheduler.New(ctx, logger)
	sched.AddTicker("gateway_stats", cfg.Chat.StatsInterval, func(context.Context) error {
		conns, rooms := hub.Count(), hub.RoomCount()
		metrics.SetGatewayStats(conns, rooms)
		logger.Info("gateway stats", zap.Int("connections", conns), zap.Int("rooms", rooms))
		return nil
	})
	if cfg.Chat.AuditRetention > 0 {
		sched.AddTicker("audit_prune", time.Hour, func(ctx context.Context) error {
			n, err := auditSvc.Prune(ctx, time.Now().Add(-cfg.Chat.AuditRetention))
			if n > 0 {
				logger.Info("audit entries pruned", zap.Int64("count", n))
			}
			return err
		})
	}

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	apows.NewChatHandlers(hub, chatSvc, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), metrics.Middleware())
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", mw.IPWhitelist(cfg.Server.MetricsIPs), gin.WrapH(metrics.Handler()))

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		authed := api.Group("", mw.Auth(cfg.Security, c))
		apirest.NewSocialHandler(socialSvc).Register(authed)
		apirest.NewDMHandler(dms).Register(authed)
		apirest.NewMessageHandler(messages, chatSvc).Register(authed)
	}

	// ---- WebSocket ----
	connCfg := gateway.ConnConfig{
		SendBuffer: cfg.Chat.SendBuffer,
		RateRPS:    cfg.Chat.WSRateRPS,
		RateBurst:  cfg.Chat.WSRateBurst,
	}
	wsH := apows.NewHandler(c, cfg.Security, connCfg, hub, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.CloseAll(shutdownTimeout / 2)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	auditSvc.Stop(shutdownCtx)
}
