// Package notification implements the durable per-user notification inbox
// (spec §4.6, component C7): a Redis sorted set per user ranked by creation
// time, plus a companion unread counter, with push-on-create to the owner's
// live sockets via the room engine.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/room"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notification is one inbox entry.
type Notification struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Type      string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt int64           `json:"createdAt"` // ms epoch, also the sorted-set rank
}

// Service implements the C7 operations over a Redis client. A nil client
// (degraded mode) makes every operation a documented no-op/zero-value so the
// HTTP layer never needs a special case for Redis absence.
type Service struct {
	redis   redis.UniversalClient
	engine  *room.Engine
	inboxMax int
	ttl      time.Duration
	log      *zap.Logger
}

// New builds a notification Service. client may be nil (degraded mode).
func New(client redis.UniversalClient, engine *room.Engine, inboxMax int, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{redis: client, engine: engine, inboxMax: inboxMax, ttl: ttl, log: log}
}

func inboxKey(userID types.UserIDType) string  { return fmt.Sprintf("ui:notifications:%d", userID) }
func unreadKey(userID types.UserIDType) string { return fmt.Sprintf("ui:notifications:unread:%d", userID) }

// CreateInput is the caller-supplied content of a new notification; ID and
// CreatedAt are assigned by Create.
type CreateInput struct {
	Title string
	Body  string
	Type  string
	Data  json.RawMessage
}

// Create writes a new notification to userID's inbox, trims overflow past
// inboxMax, bumps the unread counter, and pushes notification:new to the
// owner's live sockets (spec §4.6 "Create").
func (s *Service) Create(ctx context.Context, userID types.UserIDType, in CreateInput, id string, createdAt time.Time) (*Notification, error) {
	n := &Notification{
		ID:        id,
		Title:     in.Title,
		Body:      in.Body,
		Type:      in.Type,
		Data:      in.Data,
		CreatedAt: createdAt.UnixMilli(),
	}

	if s.redis == nil {
		s.notifyNew(ctx, userID, n)
		return n, nil
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notification: marshal: %w", err)
	}

	key := inboxKey(userID)
	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(n.CreatedAt), Member: raw})
	pipe.Expire(ctx, key, s.ttl)
	uKey := unreadKey(userID)
	pipe.Incr(ctx, uKey)
	pipe.Expire(ctx, uKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("notification: create: %w", err)
	}

	if count, err := s.redis.ZCard(ctx, key).Result(); err == nil && int(count) > s.inboxMax {
		if err := s.redis.ZRemRangeByRank(ctx, key, 0, count-int64(s.inboxMax)-1).Err(); err != nil {
			s.log.Warn("notification: overflow trim failed", zap.Error(err))
		}
	}

	metrics.NotificationsCreated.WithLabelValues(in.Type).Inc()
	s.notifyNew(ctx, userID, n)
	return n, nil
}

// BroadcastToRoom delivers a transient "notification" event to every live
// socket in room, without writing to any user's durable inbox.
func (s *Service) BroadcastToRoom(ctx context.Context, r string, data json.RawMessage) error {
	if s.engine == nil {
		return nil
	}
	return s.engine.BroadcastToRoom(ctx, types.RoomIDType(r), "notification", data)
}

// BroadcastToAll delivers a transient "notification" event to every locally
// authenticated socket and publishes it across the bridge, without writing
// to any user's durable inbox (spec §4.4 "broadcastToAll").
func (s *Service) BroadcastToAll(ctx context.Context, data json.RawMessage) error {
	if s.engine == nil {
		return nil
	}
	return s.engine.BroadcastToAll(ctx, "notification", data)
}

func (s *Service) notifyNew(ctx context.Context, userID types.UserIDType, n *Notification) {
	if s.engine == nil {
		return
	}
	s.engine.BroadcastToUser(userID, "notification:new", n)
}

// List returns up to limit entries starting at offset, newest first
// (spec §4.6 "List(limit, offset)" — stateless, skips undecodable entries).
func (s *Service) List(ctx context.Context, userID types.UserIDType, limit, offset int) ([]*Notification, error) {
	if s.redis == nil {
		return nil, nil
	}

	start := int64(offset)
	stop := int64(offset + limit - 1)
	raw, err := s.redis.ZRevRange(ctx, inboxKey(userID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}

	out := make([]*Notification, 0, len(raw))
	for _, member := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(member), &n); err != nil {
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}

// UnreadCount reads the counter; absent or non-numeric counts as zero
// (spec §4.6 "Unread count").
func (s *Service) UnreadCount(ctx context.Context, userID types.UserIDType) (int, error) {
	if s.redis == nil {
		return 0, nil
	}
	val, err := s.redis.Get(ctx, unreadKey(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("notification: unread count: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// findByID scans the set for the member whose decoded ID matches, returning
// both the decoded notification and the raw member bytes (needed to remove
// the exact member from the sorted set).
func (s *Service) findByID(ctx context.Context, userID types.UserIDType, id string) (*Notification, string, error) {
	raw, err := s.redis.ZRange(ctx, inboxKey(userID), 0, -1).Result()
	if err != nil {
		return nil, "", fmt.Errorf("notification: scan: %w", err)
	}
	for _, member := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(member), &n); err != nil {
			continue
		}
		if n.ID == id {
			return &n, member, nil
		}
	}
	return nil, "", nil
}

// MarkOneRead locates the notification by id, and if currently unread,
// remove-then-reinserts it with read=true at the same rank and decrements
// the unread counter (never below zero), emitting notification:read
// (spec §4.6 "Mark one read").
func (s *Service) MarkOneRead(ctx context.Context, userID types.UserIDType, id string) error {
	if s.redis == nil {
		return nil
	}

	n, member, err := s.findByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if n == nil || n.Read {
		return nil
	}

	n.Read = true
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notification: marshal: %w", err)
	}

	key := inboxKey(userID)
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, key, member)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(n.CreatedAt), Member: raw})
	pipe.Decr(ctx, unreadKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	s.clampUnreadFloor(ctx, userID)

	if s.engine != nil {
		s.engine.BroadcastToUser(userID, "notification:read", map[string]string{"id": id})
	}
	return nil
}

// MarkAllRead reinserts every entry as read at its original rank and resets
// the counter to zero (spec §4.6 "Mark all read").
func (s *Service) MarkAllRead(ctx context.Context, userID types.UserIDType) error {
	if s.redis == nil {
		return nil
	}

	key := inboxKey(userID)
	entries, err := s.redis.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("notification: list for mark-all: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	members := make([]redis.Z, 0, len(entries))
	for _, z := range entries {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		n.Read = true
		encoded, err := json.Marshal(n)
		if err != nil {
			continue
		}
		members = append(members, redis.Z{Score: z.Score, Member: encoded})
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Set(ctx, unreadKey(userID), 0, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notification: mark all read: %w", err)
	}

	if s.engine != nil {
		s.engine.BroadcastToUser(userID, "notification:all_read", nil)
	}
	return nil
}

// Delete removes a notification by id; if it was unread, decrements the
// counter. No socket event fires in the base contract (spec §4.6 "Delete").
func (s *Service) Delete(ctx context.Context, userID types.UserIDType, id string) error {
	if s.redis == nil {
		return nil
	}

	n, member, err := s.findByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}

	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, inboxKey(userID), member)
	if !n.Read {
		pipe.Decr(ctx, unreadKey(userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notification: delete: %w", err)
	}
	s.clampUnreadFloor(ctx, userID)
	return nil
}

// ClearAll deletes both keys and emits notification:cleared
// (spec §4.6 "Clear all").
func (s *Service) ClearAll(ctx context.Context, userID types.UserIDType) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, inboxKey(userID), unreadKey(userID)).Err(); err != nil {
		return fmt.Errorf("notification: clear all: %w", err)
	}
	if s.engine != nil {
		s.engine.BroadcastToUser(userID, "notification:cleared", nil)
	}
	return nil
}

// clampUnreadFloor prevents the counter from drifting negative across
// interrupted read/delete transitions (spec §9 "reconciliation bugs").
func (s *Service) clampUnreadFloor(ctx context.Context, userID types.UserIDType) {
	val, err := s.redis.Get(ctx, unreadKey(userID)).Int()
	if err != nil {
		return
	}
	if val < 0 {
		s.redis.Set(ctx, unreadKey(userID), 0, s.ttl)
	}
}
