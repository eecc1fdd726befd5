// Package push implements the Web Push dispatcher (spec §4.7, component C8):
// per-user and per-master subscription sets, preference gating, VAPID-signed
// delivery via daaku/webpush, and prune-on-410 subscription hygiene.
package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/daaku/webpush"
	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// Subscription is a User Agent PushSubscription, as handed to the browser's
// Push API and echoed back verbatim by the client on /push/subscribe.
type Subscription = webpush.Subscription

// Preferences gates which notification types reach a user's devices.
// Enabled is derived from subscription presence, never stored directly
// (spec §4.7: "enabled is derived from subscription presence").
type Preferences struct {
	Enabled      bool `json:"enabled"`
	CallIncoming bool `json:"callIncoming"`
	CallMissed   bool `json:"callMissed"`
}

// Payload is the notification content sent to every subscribed device
// (spec §4.7 "serialize a payload").
type Payload struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Icon    string          `json:"icon,omitempty"`
	Badge   string          `json:"badge,omitempty"`
	Tag     string          `json:"tag,omitempty"`
	Type    string          `json:"type,omitempty"`
	URL     string          `json:"url,omitempty"`
	OrderID string          `json:"orderId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Service implements subscription storage and delivery over Redis. A nil
// client puts Service in degraded mode: subscribe/unsubscribe/preferences
// become no-ops and Send is skipped entirely. An unset VAPID key only skips
// delivery; subscriptions and preferences are still stored. Either way the
// HTTP layer never special-cases push being unconfigured.
type Service struct {
	redis      redis.UniversalClient
	vapidKey   *ecdsa.PrivateKey
	subscriber string
	maxDevices int
	client     *http.Client
	log        *zap.Logger
}

// New builds a Service. client may be nil (degraded mode). privateKeyB64
// empty disables delivery even when Redis is present, so subscriptions can
// still be recorded ahead of VAPID keys being provisioned.
func New(client redis.UniversalClient, privateKeyB64, subscriber string, maxDevices int, log *zap.Logger) (*Service, error) {
	s := &Service{redis: client, subscriber: subscriber, maxDevices: maxDevices, client: &http.Client{Timeout: sendTimeout}, log: log}
	if privateKeyB64 == "" {
		return s, nil
	}
	key, err := webpush.ParseVAPIDKey(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("push: parse vapid key: %w", err)
	}
	s.vapidKey = key
	return s, nil
}

func (s *Service) enabled() bool { return s.redis != nil && s.vapidKey != nil }

func subsKey(userID types.UserIDType) string  { return fmt.Sprintf("push:subscriptions:%d", userID) }
func masterSubsKey(masterID string) string    { return fmt.Sprintf("push:master:subscriptions:%s", masterID) }
func prefsKey(userID types.UserIDType) string { return fmt.Sprintf("push:prefs:%d", userID) }

// subsOrderKey is a companion sorted set ranking userID's subscriptions by
// insertion time, mirroring the notification inbox's ZAdd/ZRemRangeByRank
// overflow pattern — here ranking endpoint hashes rather than whole entries,
// since eviction only needs to drop the oldest hash field, not a full record.
func subsOrderKey(userID types.UserIDType) string { return fmt.Sprintf("push:subscriptions:order:%d", userID) }

// endpointHash is the short_hash(endpoint) field key spec.md §4.7 names.
func endpointHash(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:8])
}

// Subscribe records sub under userID's subscription set, bounded at
// maxDevices with the oldest-entered subscription evicted when the cap is
// exceeded (spec §4.7: "oldest-entered evicted when exceeded").
func (s *Service) Subscribe(ctx context.Context, userID types.UserIDType, sub Subscription) error {
	if s.redis == nil {
		return nil
	}
	if sub.Endpoint == "" || sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		return errors.New("push: invalid subscription")
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("push: marshal subscription: %w", err)
	}

	key := subsKey(userID)
	orderKey := subsOrderKey(userID)
	hash := endpointHash(sub.Endpoint)

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, hash, raw)
	pipe.ZAdd(ctx, orderKey, redis.Z{Score: float64(time.Now().UnixNano()), Member: hash})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push: store subscription: %w", err)
	}

	if err := s.evictOverflow(ctx, key, orderKey); err != nil {
		s.log.Warn("push: device cap eviction failed", zap.Error(err))
	}
	return nil
}

// evictOverflow drops the oldest-entered subscriptions once orderKey holds
// more members than maxDevices, keeping the subscription hash and its order
// set in lockstep.
func (s *Service) evictOverflow(ctx context.Context, subsKey, orderKey string) error {
	count, err := s.redis.ZCard(ctx, orderKey).Result()
	if err != nil {
		return fmt.Errorf("push: count subscriptions: %w", err)
	}
	overflow := int(count) - s.maxDevices
	if overflow <= 0 {
		return nil
	}

	oldest, err := s.redis.ZRange(ctx, orderKey, 0, int64(overflow)-1).Result()
	if err != nil {
		return fmt.Errorf("push: list overflow subscriptions: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}

	pipe := s.redis.TxPipeline()
	pipe.HDel(ctx, subsKey, oldest...)
	pipe.ZRem(ctx, orderKey, stringsToAny(oldest)...)
	_, err = pipe.Exec(ctx)
	return err
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// Unsubscribe removes the subscription matching endpoint, if any, from both
// the subscription hash and its order set.
func (s *Service) Unsubscribe(ctx context.Context, userID types.UserIDType, endpoint string) error {
	if s.redis == nil {
		return nil
	}
	hash := endpointHash(endpoint)
	pipe := s.redis.TxPipeline()
	pipe.HDel(ctx, subsKey(userID), hash)
	pipe.ZRem(ctx, subsOrderKey(userID), hash)
	_, err := pipe.Exec(ctx)
	return err
}

// SubscribeMaster records sub under masterID's separate subscription
// namespace (spec §4.7: "master subscriptions keyed by external identifier").
func (s *Service) SubscribeMaster(ctx context.Context, masterID string, sub Subscription) error {
	if s.redis == nil {
		return nil
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("push: marshal subscription: %w", err)
	}
	return s.redis.HSet(ctx, masterSubsKey(masterID), endpointHash(sub.Endpoint), raw).Err()
}

// UnsubscribeMaster removes a master subscription by endpoint.
func (s *Service) UnsubscribeMaster(ctx context.Context, masterID, endpoint string) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.HDel(ctx, masterSubsKey(masterID), endpointHash(endpoint)).Err()
}

// GetPreferences reads stored preference overrides, deriving Enabled from
// subscription presence (spec §4.7).
func (s *Service) GetPreferences(ctx context.Context, userID types.UserIDType) (Preferences, error) {
	prefs := Preferences{CallIncoming: true, CallMissed: true}
	if s.redis == nil {
		return prefs, nil
	}

	count, err := s.redis.HLen(ctx, subsKey(userID)).Result()
	if err != nil {
		return prefs, fmt.Errorf("push: count subscriptions: %w", err)
	}
	prefs.Enabled = count > 0

	vals, err := s.redis.HGetAll(ctx, prefsKey(userID)).Result()
	if err != nil {
		return prefs, fmt.Errorf("push: read preferences: %w", err)
	}
	if v, ok := vals["callIncoming"]; ok {
		prefs.CallIncoming = v == "1"
	}
	if v, ok := vals["callMissed"]; ok {
		prefs.CallMissed = v == "1"
	}
	return prefs, nil
}

// SetPreferences updates only the provided fields, leaving the other
// unspecified.
func (s *Service) SetPreferences(ctx context.Context, userID types.UserIDType, callIncoming, callMissed *bool) error {
	if s.redis == nil {
		return nil
	}
	fields := map[string]any{}
	if callIncoming != nil {
		fields["callIncoming"] = boolFlag(*callIncoming)
	}
	if callMissed != nil {
		fields["callMissed"] = boolFlag(*callMissed)
	}
	if len(fields) == 0 {
		return nil
	}
	return s.redis.HSet(ctx, prefsKey(userID), fields).Err()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// typeAllowed applies the type-to-preference gating rule (spec §4.7):
// call_incoming/call_missed respect their preference, "test" always bypasses,
// unknown types proceed by default.
func typeAllowed(payloadType string, prefs Preferences) bool {
	switch payloadType {
	case "test":
		return true
	case "call_incoming":
		return prefs.CallIncoming
	case "call_missed":
		return prefs.CallMissed
	default:
		return true
	}
}

// SendToUser delivers payload to every one of userID's subscribed devices,
// pruning any that report 404/410 (spec §4.7, Example 4). Callers on the
// notification/publish path should invoke this in a goroutine — it performs
// outbound HTTPS and must never block the originating request (spec §9).
func (s *Service) SendToUser(ctx context.Context, userID types.UserIDType, payload Payload) error {
	if !s.enabled() {
		return nil
	}
	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	if !typeAllowed(payload.Type, prefs) {
		return nil
	}
	return s.sendToSet(ctx, subsKey(userID), payload)
}

// SendToMaster delivers payload to every subscription in masterID's
// namespace, skipping preference gating (masters carry no preference
// record — spec §4.7 only defines preferences for the user namespace).
func (s *Service) SendToMaster(ctx context.Context, masterID string, payload Payload) error {
	if !s.enabled() {
		return nil
	}
	return s.sendToSet(ctx, masterSubsKey(masterID), payload)
}

func (s *Service) sendToSet(ctx context.Context, key string, payload Payload) error {
	subs, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("push: list subscriptions: %w", err)
	}

	message, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("push: marshal payload: %w", err)
	}

	for hash, raw := range subs {
		var sub Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			s.log.Warn("push: dropping undecodable subscription", zap.String("key", key), zap.String("hash", hash))
			continue
		}
		s.sendOne(ctx, key, hash, message, &sub)
	}
	return nil
}

func (s *Service) sendOne(ctx context.Context, key, hash string, message []byte, sub *Subscription) {
	resp, err := webpush.Send(ctx, message, sub, &webpush.Config{
		Client:     s.client,
		VAPIDKey:   s.vapidKey,
		Subscriber: s.subscriber,
		TTL:        time.Hour,
	})
	if err != nil {
		s.log.Warn("push: delivery failed", zap.String("key", key), zap.Error(err))
		metrics.PushDispatched.WithLabelValues("error").Inc()
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		if err := s.redis.HDel(ctx, key, hash).Err(); err != nil {
			s.log.Warn("push: prune failed", zap.String("key", key), zap.Error(err))
		}
		metrics.PushDispatched.WithLabelValues("pruned").Inc()
	case resp.StatusCode >= 300:
		s.log.Warn("push: vendor rejected delivery", zap.String("key", key), zap.Int("status", resp.StatusCode))
		metrics.PushDispatched.WithLabelValues("rejected").Inc()
	default:
		metrics.PushDispatched.WithLabelValues("ok").Inc()
	}
}
