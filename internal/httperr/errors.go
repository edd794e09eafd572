// Package httperr defines the structured error shape surfaced to registry
// clients. Every failure that reaches the error-reporting stage is rendered
// as {"error": message} with the status carried by the error.
package httperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v3"
)

// Client-facing messages shared by several stages.
const (
	MsgNotFound        = "resource not found"
	MsgWebDisabled     = "Web interface is disabled in the config file"
	MsgInternal        = "internal server error"
	MsgTooManyRequests = "too many requests, please try again later"
	MsgUnauthorized    = "authorization required"
	MsgBadPackageData  = "bad incoming package data"
	MsgPackageExists   = "this package is already present"
	MsgVersionExists   = "this version is already present"
	MsgNoSuchPackage   = "no such package available"
	MsgNoSuchFile      = "no such file available"
	MsgUplinkOffline   = "one of the uplinks is down, refuse to publish"
	MsgRegistrationOff = "user registration disabled"
	MsgBadUsername     = "username and password are required"
	MsgBadCredentials  = "bad username/password, access denied"
)

// Error is a request-scoped failure with an HTTP status and a message that is
// safe to show to clients. Err keeps the internal cause for logs.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error; an empty message falls back to the status text.
func New(status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Status: status, Message: message}
}

// Wrap attaches an internal cause to a client-facing error.
func Wrap(status int, message string, err error) *Error {
	e := New(status, message)
	e.Err = err
	return e
}

func NotFound(message string) *Error { return New(http.StatusNotFound, message) }
func Forbidden(message string) *Error { return New(http.StatusForbidden, message) }
func Unauthorized(message string) *Error { return New(http.StatusUnauthorized, message) }
func BadRequest(message string) *Error { return New(http.StatusBadRequest, message) }
func Conflict(message string) *Error { return New(http.StatusConflict, message) }
func BadGateway(message string) *Error { return New(http.StatusBadGateway, message) }

// TooManyRequests is returned by the rate-limiting stage.
func TooManyRequests() *Error {
	return New(http.StatusTooManyRequests, MsgTooManyRequests)
}

// Internal hides err behind a generic message.
func Internal(err error) *Error {
	return Wrap(http.StatusInternalServerError, MsgInternal, err)
}

// StatusCode resolves the HTTP status carried by err. Unknown errors map to 500.
func StatusCode(err error) int {
	var he *Error
	if errors.As(err, &he) && validStatus(he.Status) {
		return he.Status
	}
	var fe *fiber.Error
	if errors.As(err, &fe) && validStatus(fe.Code) {
		return fe.Code
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message a client may see for err. 4xx errors keep
// their message; anything without a known shape is masked.
func PublicMessage(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Message
	}
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < http.StatusInternalServerError {
		return fe.Message
	}
	return MsgInternal
}

func validStatus(status int) bool {
	return status >= 400 && status < 600
}
