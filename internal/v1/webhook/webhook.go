// Package webhook implements the webhook ingress (spec §4.5, component C6):
// a small set of HTTP endpoints, authenticated by a shared secret carried in
// the JSON body, that translate external business events into room
// broadcasts.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jes11sy/realtime-gateway/internal/v1/apierr"
	"github.com/jes11sy/realtime-gateway/internal/v1/metrics"
	"github.com/jes11sy/realtime-gateway/internal/v1/room"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"go.uber.org/zap"
)

// Relay is the fire-and-forget side effect triggered by avito-new-message
// (spec §4.5, §9 "Fire-and-forget side effects"). Implemented by
// internal/telegram.Relay; kept as an interface here so webhook has no
// direct dependency on the Telegram HTTP client.
type Relay interface {
	NotifyNewMessage(ctx context.Context, data json.RawMessage)
}

// noopRelay discards everything; used when Telegram credentials are absent.
type noopRelay struct{}

func (noopRelay) NotifyNewMessage(context.Context, json.RawMessage) {}

// Handler serves the /api/v1/broadcast/* routes.
type Handler struct {
	token  string
	engine *room.Engine
	relay  Relay
	log    *zap.Logger
}

// New builds a webhook Handler. relay may be nil, in which case broadcasts
// still work but the Telegram side effect is a no-op.
func New(token string, engine *room.Engine, relay Relay, log *zap.Logger) *Handler {
	if relay == nil {
		relay = noopRelay{}
	}
	return &Handler{token: token, engine: engine, relay: relay, log: log}
}

// Register mounts every webhook route under group.
func (h *Handler) Register(group gin.IRouter) {
	group.POST("/broadcast/call-new", h.handleCall("call:new"))
	group.POST("/broadcast/call-updated", h.handleCall("call:updated"))
	group.POST("/broadcast/call-ended", h.handleCall("call:ended"))
	group.POST("/broadcast/order-new", h.handleOrder("order:new"))
	group.POST("/broadcast/order-updated", h.handleOrder("order:updated"))
	group.POST("/broadcast/notification", h.handleNotification)
	group.POST("/broadcast/avito-event", h.handleAvitoEvent)
}

// checkToken performs a constant-time comparison against the configured
// webhook secret (spec §4.5: "constant-time compare"; §7: "401, no detail").
func (h *Handler) checkToken(c *gin.Context, route, submitted string) bool {
	if subtle.ConstantTimeCompare([]byte(h.token), []byte(submitted)) != 1 {
		metrics.WebhookRequests.WithLabelValues(route, "unauthorized").Inc()
		apierr.Unauthorized401(c)
		return false
	}
	return true
}

type callPayload struct {
	Token string          `json:"token"`
	Call  json.RawMessage `json:"call"`
}

type callFields struct {
	ID         int64  `json:"id"`
	OperatorID *int64 `json:"operatorId"`
}

func (h *Handler) handleCall(event string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload callPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			metrics.WebhookRequests.WithLabelValues(event, "bad_request").Inc()
			apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
			return
		}
		if !h.checkToken(c, event, payload.Token) {
			return
		}

		var fields callFields
		_ = json.Unmarshal(payload.Call, &fields)

		ctx := c.Request.Context()
		if err := h.engine.BroadcastToRoom(ctx, types.RoomOperators, event, json.RawMessage(payload.Call)); err != nil {
			h.log.Error("webhook: broadcast failed", zap.String("event", event), zap.Error(err))
		}
		if fields.OperatorID != nil {
			room := types.RoomIDType(operatorRoom(*fields.OperatorID))
			if err := h.engine.BroadcastToRoom(ctx, room, event, json.RawMessage(payload.Call)); err != nil {
				h.log.Error("webhook: broadcast to operator room failed", zap.String("event", event), zap.Error(err))
			}
		}

		metrics.WebhookRequests.WithLabelValues(event, "ok").Inc()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type orderPayload struct {
	Token string          `json:"token"`
	Order json.RawMessage `json:"order"`
}

type orderFields struct {
	ID       int64  `json:"id"`
	City     string `json:"city"`
	MasterID *int64 `json:"masterId"`
}

func (h *Handler) handleOrder(event string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload orderPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			metrics.WebhookRequests.WithLabelValues(event, "bad_request").Inc()
			apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
			return
		}
		if !h.checkToken(c, event, payload.Token) {
			return
		}

		var fields orderFields
		_ = json.Unmarshal(payload.Order, &fields)

		ctx := c.Request.Context()
		data := json.RawMessage(payload.Order)

		targets := []types.RoomIDType{types.RoomOperators, types.RoomDirectors}
		if fields.City != "" {
			targets = append(targets, types.RoomIDType("city:"+fields.City))
		}
		if fields.MasterID != nil {
			targets = append(targets, types.RoomIDType(masterRoom(*fields.MasterID)))
		}
		if event == "order:updated" && fields.ID != 0 {
			targets = append(targets, types.RoomIDType(orderRoom(fields.ID)))
		}

		for _, room := range targets {
			if err := h.engine.BroadcastToRoom(ctx, room, event, data); err != nil {
				h.log.Error("webhook: broadcast failed", zap.String("event", event), zap.String("room", string(room)), zap.Error(err))
			}
		}

		metrics.WebhookRequests.WithLabelValues(event, "ok").Inc()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type notificationPayload struct {
	Token        string          `json:"token"`
	UserID       *int64          `json:"userId"`
	Rooms        []string        `json:"rooms"`
	Notification json.RawMessage `json:"notification"`
}

func (h *Handler) handleNotification(c *gin.Context) {
	var payload notificationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		metrics.WebhookRequests.WithLabelValues("notification", "bad_request").Inc()
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}
	if !h.checkToken(c, "notification", payload.Token) {
		return
	}

	ctx := c.Request.Context()
	data := json.RawMessage(payload.Notification)

	switch {
	case payload.UserID != nil:
		h.engine.BroadcastToUser(types.UserIDType(*payload.UserID), "notification", data)
	case len(payload.Rooms) > 0:
		for _, r := range payload.Rooms {
			if err := h.engine.BroadcastToRoom(ctx, types.RoomIDType(r), "notification", data); err != nil {
				h.log.Error("webhook: broadcast failed", zap.String("room", r), zap.Error(err))
			}
		}
	default:
		if err := h.engine.BroadcastToAll(ctx, "notification", data); err != nil {
			h.log.Error("webhook: broadcast-to-all failed", zap.Error(err))
		}
	}

	metrics.WebhookRequests.WithLabelValues("notification", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type avitoPayload struct {
	Token string          `json:"token"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) handleAvitoEvent(c *gin.Context) {
	var payload avitoPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		metrics.WebhookRequests.WithLabelValues("avito-event", "bad_request").Inc()
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}
	if !h.checkToken(c, "avito-event", payload.Token) {
		return
	}

	event := avitoEventName(payload.Type)

	ctx := c.Request.Context()
	if err := h.engine.BroadcastToAll(ctx, event, json.RawMessage(payload.Data)); err != nil {
		h.log.Error("webhook: avito broadcast failed", zap.String("event", event), zap.Error(err))
	}

	if event == "avito-new-message" {
		go h.relay.NotifyNewMessage(context.WithoutCancel(ctx), payload.Data)
	}

	metrics.WebhookRequests.WithLabelValues("avito-event", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func avitoEventName(kind string) string {
	switch kind {
	case "chat-updated":
		return "avito-chat-updated"
	case "notification":
		return "avito-notification"
	default:
		return "avito-new-message"
	}
}

func operatorRoom(id int64) string { return roomWithID("operator:", id) }
func masterRoom(id int64) string   { return roomWithID("master:", id) }
func orderRoom(id int64) string    { return roomWithID("order:", id) }

func roomWithID(prefix string, id int64) string {
	return prefix + itoa(id)
}

func itoa(id int64) string {
	if id == 0 {
		return "0"
	}
	neg := id < 0
	if neg {
		id = -id
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
