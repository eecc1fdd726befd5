package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jes11sy/realtime-gateway/internal/v1/auth"
	"github.com/jes11sy/realtime-gateway/internal/v1/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T) *Handler {
	reg := registry.New(time.Minute, zap.NewNop())
	verifier, err := auth.NewVerifier("test-signing-key-at-least-32-bytes-long", "")
	require.NoError(t, err)
	return NewHandler(reg, verifier)
}

func doGet(h *Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := gin.New()
	h.Register(r.Group("/api/v1"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1"+path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth_Unauthenticated(t *testing.T) {
	h := newTestHandler(t)
	w := doGet(h, "/stats/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConnections_RequiresAuth(t *testing.T) {
	h := newTestHandler(t)
	w := doGet(h, "/stats/connections")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRooms_RequiresAuth(t *testing.T) {
	h := newTestHandler(t)
	w := doGet(h, "/stats/rooms")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
