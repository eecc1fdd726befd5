package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jes11sy/realtime-gateway/internal/v1/apierr"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/middleware"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler exposes the user-facing inbox endpoints and the internal,
// webhook-secret-protected publisher endpoints (spec §6/§8).
type Handler struct {
	svc      *Service
	verifier *auth.Verifier
	webhookTok string
}

// NewHandler builds a notification Handler.
func NewHandler(svc *Service, verifier *auth.Verifier, webhookToken string) *Handler {
	return &Handler{svc: svc, verifier: verifier, webhookTok: webhookToken}
}

// Register mounts /notifications/* under group.
func (h *Handler) Register(group gin.IRouter) {
	user := group.Group("/notifications", middleware.RequireUser(h.verifier))
	user.GET("", h.list)
	user.GET("/unread-count", h.unreadCount)
	user.POST("/read", h.markOneRead)
	user.POST("/read-all", h.markAllRead)
	user.DELETE("/:id", h.deleteOne)
	user.DELETE("", h.clearAll)

	internal := group.Group("/notifications/internal", middleware.RequireWebhookSecret(h.webhookTok))
	internal.POST("/create", h.internalCreate)
	internal.POST("/notify-users", h.internalNotifyUsers)
	internal.POST("/notify-room", h.internalNotifyRoom)
	internal.POST("/operator/call", h.internalOperatorCall)
	internal.POST("/operator/order", h.internalOperatorOrder)
	internal.POST("/directors/city", h.internalDirectorsCity)
	internal.POST("/master", h.internalMaster)
	internal.POST("/system", h.internalSystem)
}

func (h *Handler) list(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxListLimit {
			limit = n
		}
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	notifications, err := h.svc.List(c.Request.Context(), user.UserID, limit, offset)
	if err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to list notifications", err), false)
		return
	}
	unread, err := h.svc.UnreadCount(c.Request.Context(), user.UserID)
	if err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to read unread count", err), false)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "unreadCount": unread})
}

func (h *Handler) unreadCount(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)
	unread, err := h.svc.UnreadCount(c.Request.Context(), user.UserID)
	if err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to read unread count", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": unread})
}

type markReadPayload struct {
	NotificationID string `json:"notificationId"`
}

func (h *Handler) markOneRead(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	var payload markReadPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.NotificationID == "" {
		apierr.Respond(c, apierr.New(apierr.BadRequest, "notificationId is required"), false)
		return
	}

	if err := h.svc.MarkOneRead(c.Request.Context(), user.UserID, payload.NotificationID); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to mark notification read", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) markAllRead(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)
	if err := h.svc.MarkAllRead(c.Request.Context(), user.UserID); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to mark all read", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) deleteOne(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)
	id := c.Param("id")
	if err := h.svc.Delete(c.Request.Context(), user.UserID, id); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to delete notification", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) clearAll(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)
	if err := h.svc.ClearAll(c.Request.Context(), user.UserID); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to clear notifications", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type internalCreatePayload struct {
	UserID int64           `json:"userId"`
	Title  string          `json:"title"`
	Body   string          `json:"body"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

func (h *Handler) internalCreate(c *gin.Context) {
	var payload internalCreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.UserID == 0 {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}

	n, err := h.svc.Create(c.Request.Context(), types.UserIDType(payload.UserID), CreateInput{
		Title: payload.Title,
		Body:  payload.Body,
		Type:  payload.Type,
		Data:  payload.Data,
	}, uuid.NewString(), time.Now())
	if err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to create notification", err), false)
		return
	}

	c.JSON(http.StatusOK, n)
}

type internalNotifyUsersPayload struct {
	UserIDs []int64         `json:"userIds"`
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

func (h *Handler) internalNotifyUsers(c *gin.Context) {
	var payload internalNotifyUsersPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}

	for _, uid := range payload.UserIDs {
		_, err := h.svc.Create(c.Request.Context(), types.UserIDType(uid), CreateInput{
			Title: payload.Title,
			Body:  payload.Body,
			Type:  payload.Type,
			Data:  payload.Data,
		}, uuid.NewString(), time.Now())
		if err != nil {
			apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to notify users", err), false)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(payload.UserIDs)})
}

type internalNotifyRoomPayload struct {
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

// internalNotifyRoom broadcasts a transient (non-inbox) notification event
// to every live socket in an arbitrary caller-supplied room, for publishers
// whose target isn't one of the fixed derivations below.
func (h *Handler) internalNotifyRoom(c *gin.Context) {
	var payload internalNotifyRoomPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Room == "" {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "room is required", err), false)
		return
	}

	if err := h.svc.BroadcastToRoom(c.Request.Context(), payload.Room, payload.Data); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to notify room", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// broadcastToRooms fans a transient notification payload out to each room
// in order, stopping at the first failure.
func (h *Handler) broadcastToRooms(ctx context.Context, rooms []string, data json.RawMessage) error {
	for _, r := range rooms {
		if err := h.svc.BroadcastToRoom(ctx, r, data); err != nil {
			return err
		}
	}
	return nil
}

type internalOperatorCallPayload struct {
	OperatorID *int64          `json:"operatorId"`
	Data       json.RawMessage `json:"data"`
}

// internalOperatorCall mirrors the public call-new/call-updated/call-ended
// webhook's room derivation (spec §4.5): operators, plus the operator's own
// room when an operatorId is given.
func (h *Handler) internalOperatorCall(c *gin.Context) {
	var payload internalOperatorCallPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}

	targets := []string{"operators"}
	if payload.OperatorID != nil {
		targets = append(targets, fmt.Sprintf("operator:%d", *payload.OperatorID))
	}

	if err := h.broadcastToRooms(c.Request.Context(), targets, payload.Data); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to notify operator", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type internalOperatorOrderPayload struct {
	OrderID  *int64          `json:"orderId"`
	City     string          `json:"city"`
	MasterID *int64          `json:"masterId"`
	Data     json.RawMessage `json:"data"`
}

// internalOperatorOrder mirrors the public order-new/order-updated webhook's
// room derivation (spec §4.5): operators, directors, and whichever of
// city/master/order rooms the payload supplies.
func (h *Handler) internalOperatorOrder(c *gin.Context) {
	var payload internalOperatorOrderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}

	targets := []string{"operators", "directors"}
	if payload.City != "" {
		targets = append(targets, "city:"+payload.City)
	}
	if payload.MasterID != nil {
		targets = append(targets, fmt.Sprintf("master:%d", *payload.MasterID))
	}
	if payload.OrderID != nil {
		targets = append(targets, fmt.Sprintf("order:%d", *payload.OrderID))
	}

	if err := h.broadcastToRooms(c.Request.Context(), targets, payload.Data); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to notify order targets", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type internalDirectorsCityPayload struct {
	City string          `json:"city"`
	Data json.RawMessage `json:"data"`
}

// internalDirectorsCity notifies the directors room, optionally narrowed
// further by a city room.
func (h *Handler) internalDirectorsCity(c *gin.Context) {
	var payload internalDirectorsCityPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}

	targets := []string{"directors"}
	if payload.City != "" {
		targets = append(targets, "city:"+payload.City)
	}

	if err := h.broadcastToRooms(c.Request.Context(), targets, payload.Data); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to notify directors", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type internalMasterPayload struct {
	MasterID int64           `json:"masterId"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

// internalMaster writes a durable inbox entry keyed by masterId as though it
// were a userId, reproducing the identity-space conflation spec.md documents
// as an inherited interface gap rather than something this service resolves
// (see DESIGN.md).
func (h *Handler) internalMaster(c *gin.Context) {
	var payload internalMasterPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.MasterID == 0 {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "masterId is required", err), false)
		return
	}

	n, err := h.svc.Create(c.Request.Context(), types.UserIDType(payload.MasterID), CreateInput{
		Title: payload.Title,
		Body:  payload.Body,
		Type:  payload.Type,
		Data:  payload.Data,
	}, uuid.NewString(), time.Now())
	if err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to notify master", err), false)
		return
	}
	c.JSON(http.StatusOK, n)
}

type internalSystemPayload struct {
	Data json.RawMessage `json:"data"`
}

// internalSystem broadcasts a transient system-wide notification to every
// authenticated socket, mirroring the public notification webhook's
// no-userId-no-rooms fallback (spec §4.5).
func (h *Handler) internalSystem(c *gin.Context) {
	var payload internalSystemPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}

	if err := h.svc.BroadcastToAll(c.Request.Context(), payload.Data); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to broadcast system notification", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
