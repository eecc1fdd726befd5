// Package ratelimit enforces the three rate limits the gateway exposes
// (spec §4 "Non-goals" scope this narrowly: webhook ingress, WebSocket
// connect attempts, and a general API baseline) using Redis when available
// and an in-process store in degraded mode.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jes11sy/realtime-gateway/internal/v1/config"
	"github.com/jes11sy/realtime-gateway/internal/v1/logging"
	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the three named limiter instances the gateway needs.
type RateLimiter struct {
	apiGlobal *limiter.Limiter
	webhook   *limiter.Limiter
	wsIP      *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter builds a RateLimiter. When redisClient is nil (degraded
// mode) it falls back to an in-process memory store, per-instance rather
// than cluster-wide (spec §9 "degraded mode is first-class").
func NewRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) (*RateLimiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitApiGlobal)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: invalid api global rate: %w", err)
	}
	webhookRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWebhook)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: invalid webhook rate: %w", err)
	}
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: invalid ws ip rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "limiter:v1:"})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: build redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (degraded mode)")
	}

	return &RateLimiter{
		apiGlobal: limiter.New(store, apiGlobalRate),
		webhook:   limiter.New(store, webhookRate),
		wsIP:      limiter.New(store, wsIPRate),
		store:     store,
	}, nil
}

// GlobalMiddleware enforces the API-wide per-IP baseline.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.apiGlobal, "api_global")
}

// WebhookMiddleware enforces the per-IP webhook ingress limit.
func (rl *RateLimiter) WebhookMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.webhook, "webhook")
}

func (rl *RateLimiter) middleware(inst *limiter.Limiter, limitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		ctx := c.Request.Context()

		result, err := inst.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

		if result.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(result.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": result.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocketConnect enforces the per-IP WebSocket connect-attempt limit
// before the handshake is upgraded (spec §5 "resource caps"). Returns true
// if the connection should proceed.
func (rl *RateLimiter) CheckWebSocketConnect(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	result, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed", zap.Error(err))
		return true
	}

	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(result.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this ip"})
		return false
	}
	return true
}
