// Package apierr centralizes the HTTP-surfaced error kind → status code
// table from spec §7, so every HTTP handler reports failures the same way
// instead of hand-rolling gin.H{"error": ...} bodies with inconsistent
// status codes.
package apierr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an error for the purpose of picking an HTTP status and
// response shape. Unlisted kinds fall back to Internal.
type Kind int

const (
	Internal Kind = iota
	Unauthorized
	Forbidden
	BadRequest
	NotFound
	Conflict
)

func (k Kind) status() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed API error carrying the disposition spec §7 assigns it.
type Error struct {
	Kind    Kind
	Message string
	Detail  error
}

func (e *Error) Error() string {
	if e.Detail != nil {
		return e.Message + ": " + e.Detail.Error()
	}
	return e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, detail error) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail}
}

// Respond writes the JSON error body and status for err. In production
// (devMode=false) an Internal error never echoes its detail, matching the
// teacher's DevelopmentMode-gated verbosity.
func Respond(c *gin.Context, err error, devMode bool) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = &Error{Kind: Internal, Message: "internal error", Detail: err}
	}

	body := gin.H{"error": apiErr.Message}
	if devMode && apiErr.Detail != nil {
		body["detail"] = apiErr.Detail.Error()
	}
	c.JSON(apiErr.Kind.status(), body)
}

// Unauthorized401 writes a bare 401 with no detail, for the webhook
// shared-secret mismatch path (spec §7: "401, no detail").
func Unauthorized401(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}
