package push

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jes11sy/realtime-gateway/internal/v1/apierr"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/middleware"
)

// Handler exposes the /push/* endpoints (spec §6: "All require a user
// token").
type Handler struct {
	svc      *Service
	verifier *auth.Verifier
}

// NewHandler builds a push Handler.
func NewHandler(svc *Service, verifier *auth.Verifier) *Handler {
	return &Handler{svc: svc, verifier: verifier}
}

// Register mounts /push/* under group.
func (h *Handler) Register(group gin.IRouter) {
	push := group.Group("/push", middleware.RequireUser(h.verifier))
	push.POST("/subscribe", h.subscribe)
	push.POST("/unsubscribe", h.unsubscribe)
	push.GET("/settings", h.getSettings)
	push.PATCH("/settings", h.patchSettings)
	push.POST("/test", h.test)
	push.POST("/master/subscribe", h.masterSubscribe)
	push.POST("/master/unsubscribe", h.masterUnsubscribe)
}

type subscribePayload struct {
	Subscription Subscription `json:"subscription"`
}

func (h *Handler) subscribe(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	var payload subscribePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid subscription", err), false)
		return
	}

	if err := h.svc.Subscribe(c.Request.Context(), user.UserID, payload.Subscription); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "failed to subscribe", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type unsubscribePayload struct {
	Endpoint string `json:"endpoint"`
}

func (h *Handler) unsubscribe(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	var payload unsubscribePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Endpoint == "" {
		apierr.Respond(c, apierr.New(apierr.BadRequest, "endpoint is required"), false)
		return
	}

	if err := h.svc.Unsubscribe(c.Request.Context(), user.UserID, payload.Endpoint); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to unsubscribe", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) getSettings(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	prefs, err := h.svc.GetPreferences(c.Request.Context(), user.UserID)
	if err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to read settings", err), false)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

type patchSettingsPayload struct {
	CallIncoming *bool `json:"callIncoming"`
	CallMissed   *bool `json:"callMissed"`
}

func (h *Handler) patchSettings(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	var payload patchSettingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "invalid request body", err), false)
		return
	}

	if err := h.svc.SetPreferences(c.Request.Context(), user.UserID, payload.CallIncoming, payload.CallMissed); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to update settings", err), false)
		return
	}

	prefs, err := h.svc.GetPreferences(c.Request.Context(), user.UserID)
	if err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to read settings", err), false)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// test fires a bypass-preference test push without blocking the response
// (spec §9 "fire-and-forget side effects").
func (h *Handler) test(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)
	ctx := context.WithoutCancel(c.Request.Context())

	go func() {
		_ = h.svc.SendToUser(ctx, user.UserID, Payload{
			Title: "Test notification",
			Body:  "This is a test push notification.",
			Type:  "test",
		})
	}()

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type masterSubscribePayload struct {
	MasterID     string       `json:"masterId"`
	Subscription Subscription `json:"subscription"`
}

func (h *Handler) masterSubscribe(c *gin.Context) {
	var payload masterSubscribePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.MasterID == "" {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "masterId is required", err), false)
		return
	}

	if err := h.svc.SubscribeMaster(c.Request.Context(), payload.MasterID, payload.Subscription); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.BadRequest, "failed to subscribe", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type masterUnsubscribePayload struct {
	MasterID string `json:"masterId"`
	Endpoint string `json:"endpoint"`
}

func (h *Handler) masterUnsubscribe(c *gin.Context) {
	var payload masterUnsubscribePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.MasterID == "" || payload.Endpoint == "" {
		apierr.Respond(c, apierr.New(apierr.BadRequest, "masterId and endpoint are required"), false)
		return
	}

	if err := h.svc.UnsubscribeMaster(c.Request.Context(), payload.MasterID, payload.Endpoint); err != nil {
		apierr.Respond(c, apierr.Wrap(apierr.Internal, "failed to unsubscribe", err), false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
