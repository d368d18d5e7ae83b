// Package apperr defines the application error taxonomy and its single
// translation point to HTTP responses.
package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an application error with an HTTP status. Handlers raise it close
// to the point of detection; WriteJSON translates it once at the boundary
// into the uniform {msg} shape.
type Error struct {
	Code    int                    `json:"-"`
	Message string                 `json:"msg"`
	Detail  map[string]interface{} `json:"-"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an application error with the given status code.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause for server-side logging; the cause never reaches the
// client.
func Wrap(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Validation is a 400 for missing or malformed input.
func Validation(message string) *Error {
	return New(http.StatusBadRequest, message)
}

// Unauthorized is a 401 for a missing or invalid principal.
func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

// NotFound is a 404 for an absent course, order, or content document.
func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

// Conflict is a 400 carrying detail the client can act on, e.g. which
// courses were excluded because the caller already owns them.
func Conflict(message string, detail map[string]interface{}) *Error {
	return &Error{Code: http.StatusBadRequest, Message: message, Detail: detail}
}

// Internal is a 500 with a generic client message; the cause stays in logs.
func Internal(err error) *Error {
	return Wrap(http.StatusInternalServerError, "đã xảy ra lỗi phía máy chủ", err)
}

// WriteJSON renders err to the gin context. Unknown error types degrade to a
// generic 500 so internals never leak.
func WriteJSON(c *gin.Context, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal(err)
	}

	body := gin.H{"msg": appErr.Message}
	for k, v := range appErr.Detail {
		body[k] = v
	}
	c.JSON(appErr.Code, body)
}
