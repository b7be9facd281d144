package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code and message, so a wrapped copy
// still satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of base carrying err as its cause. The sentinel is never mutated.
func Wrap(base *Error, err error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Err:     err,
	}
}

// Common error types
var (
	ErrBadRequest      = New(http.StatusBadRequest, "Bad request", nil)
	ErrPayloadTooLarge = New(http.StatusRequestEntityTooLarge, "Payload too large", nil)
	ErrInternalServer  = New(http.StatusInternalServerError, "Internal server error", nil)
)

// Webhook processing error types
var (
	// ErrAuthentication is permanent: the delivery is not from the platform.
	ErrAuthentication = New(http.StatusUnauthorized, "Authentication failed", nil)
	// ErrValidation is permanent for the payload but still answered non-2xx so upstream redelivers.
	ErrValidation = New(http.StatusUnprocessableEntity, "Validation error", nil)
	ErrStorage    = New(http.StatusServiceUnavailable, "Storage unavailable", nil)
	ErrInFlight   = New(http.StatusConflict, "Delivery already in flight", nil)
	ErrDownstream = New(http.StatusBadGateway, "Downstream publish failed", nil)
)

// Code reports the HTTP status carried by err, or 500 for foreign errors.
func Code(err error) int {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// IsTransient reports whether upstream redelivery may succeed later.
func IsTransient(err error) bool {
	code := Code(err)
	return code == http.StatusConflict || code >= http.StatusInternalServerError
}

// ErrorMiddleware renders the last gin error as JSON
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			var appErr *Error
			if !stderrors.As(err, &appErr) {
				appErr = Wrap(ErrInternalServer, err)
			}

			c.JSON(appErr.Code, appErr)
			c.Abort()
		}
	}
}
