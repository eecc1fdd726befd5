package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestRespond_KnownKindMapsToStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{Internal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		c, w := newTestContext()
		Respond(c, New(tc.kind, "boom"), false)
		assert.Equal(t, tc.want, w.Code)
	}
}

func TestRespond_DevModeIncludesDetail(t *testing.T) {
	c, w := newTestContext()
	Respond(c, Wrap(Internal, "failed", errors.New("db down")), true)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["error"])
	assert.Equal(t, "db down", body["detail"])
}

func TestRespond_ProductionHidesDetail(t *testing.T) {
	c, w := newTestContext()
	Respond(c, Wrap(Internal, "failed", errors.New("db down")), false)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["error"])
	_, hasDetail := body["detail"]
	assert.False(t, hasDetail)
}

func TestRespond_NonAPIErrorFallsBackToInternal(t *testing.T) {
	c, w := newTestContext()
	Respond(c, errors.New("raw error"), false)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestUnauthorized401_NeverLeaksDetail(t *testing.T) {
	c, w := newTestContext()
	Unauthorized401(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
	assert.Len(t, body, 1)
}

func TestError_MessageIncludesDetailWhenPresent(t *testing.T) {
	err := Wrap(Internal, "failed", errors.New("db down"))
	assert.Equal(t, "failed: db down", err.Error())

	bare := New(Internal, "failed")
	assert.Equal(t, "failed", bare.Error())
}
