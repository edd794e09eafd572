package middleware

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/logging"
)

const (
	localsRequestID = "_anyregistry_request_id"
	localsReporter  = "_anyregistry_reporter"
)

// RequestLog 生成请求 ID，并在请求结束后输出一条结构化访问日志。
func RequestLog(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		reqID := uuid.NewString()
		c.Locals(localsRequestID, reqID)
		c.Set(fiber.HeaderXRequestID, reqID)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = httperr.StatusCode(err)
		}
		entry := logger.WithFields(logging.RequestFields(
			reqID,
			c.Method(),
			c.OriginalURL(),
			status,
			auth.RemoteUser(c).Name,
			time.Since(start),
		))
		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Warn("request completed")
		case err != nil:
			entry.Info("request completed")
		default:
			entry.Debug("request completed")
		}
		return err
	}
}

// RequestID returns the identifier assigned by RequestLog.
func RequestID(c fiber.Ctx) string {
	if value, ok := c.Locals(localsRequestID).(string); ok {
		return value
	}
	return ""
}

// PoweredBy 在响应中附加标识头，不会短路请求。
func PoweredBy(userAgent string) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Set(fiber.HeaderXPoweredBy, userAgent)
		return c.Next()
	}
}

// FaviconRewrite 将 /favicon.ico 改写到静态资源路径后继续处理。
func FaviconRewrite(target string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if c.Path() == "/favicon.ico" {
			c.Path(target)
		}
		return c.Next()
	}
}

// NotFound is the catch-all stage.
func NotFound() fiber.Handler {
	return func(fiber.Ctx) error {
		return httperr.NotFound(httperr.MsgNotFound)
	}
}
