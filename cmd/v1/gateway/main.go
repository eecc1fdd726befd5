package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/bus"
	"github.com/jes11sy/realtime-gateway/internal/v1/config"
	"github.com/jes11sy/realtime-gateway/internal/v1/health"
	"github.com/jes11sy/realtime-gateway/internal/v1/logging"
	"github.com/jes11sy/realtime-gateway/internal/v1/middleware"
	"github.com/jes11sy/realtime-gateway/internal/v1/notification"
	"github.com/jes11sy/realtime-gateway/internal/v1/push"
	"github.com/jes11sy/realtime-gateway/internal/v1/ratelimit"
	"github.com/jes11sy/realtime-gateway/internal/v1/registry"
	"github.com/jes11sy/realtime-gateway/internal/v1/room"
	"github.com/jes11sy/realtime-gateway/internal/v1/stats"
	"github.com/jes11sy/realtime-gateway/internal/v1/telegram"
	"github.com/jes11sy/realtime-gateway/internal/v1/webhook"
	"github.com/jes11sy/realtime-gateway/internal/v1/ws"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	log := logging.GetLogger()
	defer log.Sync()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.CookieSecret)
	if err != nil {
		log.Fatal("failed to build token verifier", zap.Error(err))
	}

	instanceID := os.Getenv("HOSTNAME")
	if instanceID == "" {
		instanceID = "gateway-" + time.Now().UTC().Format("20060102150405")
	}
	eventBus := bus.New(cfg, instanceID, log)
	defer eventBus.Close()

	reg := registry.New(cfg.AuthGrace(), log)
	engine := room.New(reg, eventBus, log)

	if err := eventBus.Subscribe(context.Background(), engine.HandleBusEnvelope); err != nil {
		log.Warn("bus subscribe failed, running in degraded single-instance mode", zap.Error(err))
	}

	stopSweep := make(chan struct{})
	defer close(stopSweep)
	go reg.RunSweeper(cfg.SweepInterval(), stopSweep, isAliveConnection, func(res registry.RemoveResult) {
		if !res.WasAuthenticated {
			return
		}
		presence := map[string]any{"userId": res.User.UserID, "role": res.User.Role}
		for _, r := range res.PresenceRooms {
			_ = engine.BroadcastToRoom(context.Background(), r, "user:offline", presence)
		}
	})

	redisClient := eventBus.Client()

	notifSvc := notification.New(redisClient, engine, cfg.InboxMax, cfg.InboxTTL(), log)
	notifHandler := notification.NewHandler(notifSvc, verifier, cfg.WebhookToken)

	pushSvc, err := push.New(redisClient, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, cfg.MaxPushDevices, log)
	if err != nil {
		log.Fatal("failed to build push service", zap.Error(err))
	}
	pushHandler := push.NewHandler(pushSvc, verifier)

	relay := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	webhookHandler := webhook.New(cfg.WebhookToken, engine, relay, log)

	rl, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		log.Fatal("failed to build rate limiter", zap.Error(err))
	}

	healthHandler := health.NewHandler(eventBus)
	statsHandler := stats.NewHandler(reg, verifier)

	wsHandler := ws.New(verifier, reg, engine, log)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	var origins []string
	for _, o := range strings.Split(cfg.CorsOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	corsCfg.AllowOrigins = origins
	corsCfg.AllowCredentials = true
	router.Use(cors.New(corsCfg))

	router.Use(rl.GlobalMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)

	router.GET("/ws", func(c *gin.Context) {
		if !rl.CheckWebSocketConnect(c) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
			return
		}
		wsHandler.ServeHTTP(c)
	})

	apiV1 := router.Group("/api/v1")
	webhookGroup := apiV1.Group("", rl.WebhookMiddleware())
	webhookHandler.Register(webhookGroup)
	notifHandler.Register(apiV1)
	pushHandler.Register(apiV1)
	statsHandler.Register(apiV1)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("gateway listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("gateway exited")
}

// isAliveConnection is the sweeper's liveness predicate. Ping/pong failures
// already surface as a read error in ws.Handler's per-socket loop, which
// tears the connection down immediately; the periodic sweep (spec §4.3) is
// a backstop against sockets that never produced a read error at all (TCP
// half-open, OS buffering). It probes the socket directly with Ping rather
// than trusting a cached pong timestamp, since a stack that silently drops
// writes is exactly the failure mode ws.Handler's own read loop won't catch.
func isAliveConnection(c *registry.Connection) bool {
	return c.Ping()
}
