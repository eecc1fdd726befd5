// Package stats exposes read-only connection and room diagnostics
// (spec §6 "Stats").
package stats

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/middleware"
	"github.com/jes11sy/realtime-gateway/internal/v1/registry"
)

// Handler serves the /stats/* endpoints.
type Handler struct {
	reg      *registry.Registry
	verifier *auth.Verifier
}

// NewHandler builds a stats Handler over reg.
func NewHandler(reg *registry.Registry, verifier *auth.Verifier) *Handler {
	return &Handler{reg: reg, verifier: verifier}
}

// Register mounts /stats/* under group. connections and rooms require a
// verified user token; health is deliberately unauthenticated (spec §6).
func (h *Handler) Register(group gin.IRouter) {
	group.GET("/stats/health", h.health)

	authed := group.Group("/stats", middleware.RequireUser(h.verifier))
	authed.GET("/connections", h.connections)
	authed.GET("/rooms", h.rooms)
}

func (h *Handler) connections(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.Stats())
}

func (h *Handler) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.reg.RoomCounts()})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
