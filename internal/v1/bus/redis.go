// Package bus implements the cross-instance pub/sub bridge that lets
// independent gateway processes see each other's room and broadcast-to-all
// events. A Bus republishes every locally-originated broadcast onto a
// shared Redis channel and delivers everything it receives back to the
// local registry, except envelopes this same instance originated.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jes11sy/realtime-gateway/internal/v1/config"
	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const channelName = "gateway:events"

// maxBackoff and baseBackoff bound the subscribe-loop reconnect delay:
// 100ms * attempt, capped at 3s, with the loop giving up after
// maxReconnectAttempts consecutive failures.
const (
	baseBackoff           = 100 * time.Millisecond
	maxBackoff            = 3 * time.Second
	maxReconnectAttempts  = 10
)

// Bus is the Redis-backed implementation of types.Bus. It holds two
// independent client handles, one dedicated to publishing and one to the
// long-lived subscription, so a slow subscriber never blocks a publish.
type Bus struct {
	pub        redis.UniversalClient
	sub        redis.UniversalClient
	cb         *gobreaker.CircuitBreaker
	instanceID string
	log        *zap.Logger

	mu       sync.RWMutex
	degraded bool // true when Redis is unreachable; Publish/Subscribe become local no-ops
}

var _ types.Bus = (*Bus)(nil)

// New builds a Bus from the process configuration. instanceID identifies
// this process for self-origin-echo suppression; cmd/v1/gateway passes the
// HOSTNAME value, or a timestamp-based id when HOSTNAME is unset. If Redis cannot be reached at startup, New still
// returns a usable Bus running in degraded single-instance mode rather than
// failing the whole process — a single gateway pod works fine without a
// cross-instance bridge.
func New(cfg *config.Config, instanceID string, log *zap.Logger) *Bus {
	opts := universalOptions(cfg)

	b := &Bus{
		pub:        redis.NewUniversalClient(opts),
		sub:        redis.NewUniversalClient(opts),
		instanceID: instanceID,
		log:        log,
	}

	st := gobreaker.Settings{
		Name:        "redis-bus",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(st)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.pub.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable at startup, running in degraded single-instance mode", zap.Error(err))
		b.mu.Lock()
		b.degraded = true
		b.mu.Unlock()
	}

	return b
}

func universalOptions(cfg *config.Config) *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Password:     cfg.RedisPassword,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	if cfg.RedisMode == "sentinel" {
		opts.Addrs = strings.Split(cfg.RedisSentinelAddrs, ",")
		opts.MasterName = cfg.RedisSentinelMaster
	} else {
		opts.Addrs = []string{cfg.RedisAddr()}
	}

	return opts
}

// Client exposes the publish-side Redis client for packages that need raw
// key-value access (notification inbox, push subscription storage) beyond
// the Bus/Envelope model. Returns nil when running in degraded mode.
func (b *Bus) Client() redis.UniversalClient {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.degraded {
		return nil
	}
	return b.pub
}

// Ready reports whether the bus has a working Redis connection.
func (b *Bus) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.degraded
}

// Publish stamps env with this instance's ID (if unset) and publishes it to
// the shared channel. In degraded mode, Publish is a silent no-op: the
// caller already delivered the event to its own local connections before
// reaching the bus, so a missing bridge only means other instances miss it.
func (b *Bus) Publish(ctx context.Context, env types.Envelope) error {
	if env.OriginInstanceID == "" {
		env.OriginInstanceID = b.instanceID
	}

	b.mu.RLock()
	degraded := b.degraded
	b.mu.RUnlock()
	if degraded {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	_, err = b.cb.Execute(func() (interface{}, error) {
		return nil, b.pub.Publish(ctx, channelName, data).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.BusEnvelopesPublished.WithLabelValues("breaker_open").Inc()
			b.log.Warn("bus publish dropped: circuit breaker open", zap.String("event", env.Event))
			return nil
		}
		metrics.BusEnvelopesPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("bus: publish: %w", err)
	}

	metrics.BusEnvelopesPublished.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe starts a background goroutine that delivers every envelope
// received on the shared channel to handler, except envelopes whose
// OriginInstanceID matches this instance (this instance already applied
// them locally before publishing). It reconnects with a linear backoff
// (100ms * attempt, capped at 3s) on connection loss and gives up after maxReconnectAttempts
// consecutive failures, at which point the bus falls back to degraded mode.
func (b *Bus) Subscribe(ctx context.Context, handler func(types.Envelope)) error {
	b.mu.RLock()
	degraded := b.degraded
	b.mu.RUnlock()
	if degraded {
		return nil
	}

	go b.subscribeLoop(ctx, handler)
	return nil
}

func (b *Bus) subscribeLoop(ctx context.Context, handler func(types.Envelope)) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pubsub := b.sub.Subscribe(ctx, channelName)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			attempt++
			if attempt >= maxReconnectAttempts {
				b.log.Error("bus subscribe: giving up after repeated failures, falling back to degraded mode", zap.Int("attempts", attempt))
				b.mu.Lock()
				b.degraded = true
				b.mu.Unlock()
				return
			}
			delay := backoffFor(attempt)
			b.log.Warn("bus subscribe: reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		b.log.Info("bus subscribed", zap.String("channel", channelName))
		b.drain(ctx, pubsub, handler)
		pubsub.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (b *Bus) drain(ctx context.Context, pubsub *redis.PubSub, handler func(types.Envelope)) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env types.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				metrics.BusEnvelopesReceived.WithLabelValues("unmarshal_error").Inc()
				b.log.Error("bus: failed to unmarshal envelope", zap.Error(err))
				continue
			}

			if env.OriginInstanceID == b.instanceID {
				metrics.BusEnvelopesReceived.WithLabelValues("self_origin").Inc()
				continue
			}

			metrics.BusEnvelopesReceived.WithLabelValues("ok").Inc()
			handler(env)
		}
	}
}

func backoffFor(attempt int) time.Duration {
	d := baseBackoff * time.Duration(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Close releases both Redis client handles.
func (b *Bus) Close() error {
	var errs []error
	if err := b.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.sub.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Ping checks Redis connectivity; used by health checks.
func (b *Bus) Ping(ctx context.Context) error {
	b.mu.RLock()
	degraded := b.degraded
	b.mu.RUnlock()
	if degraded {
		return errors.New("bus: running in degraded single-instance mode")
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.pub.Ping(ctx).Err()
	})
	return err
}
