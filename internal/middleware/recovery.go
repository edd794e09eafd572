package middleware

import (
	"errors"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/pipeline"
)

// ErrConnAborted is returned by stages that notice the client went away.
var ErrConnAborted = errors.New("connection aborted")

// IsBenignAbort reports a client abort on a response that is already 304.
func IsBenignAbort(c fiber.Ctx, err error) bool {
	if c.Response().StatusCode() != fiber.StatusNotModified {
		return false
	}
	return errors.Is(err, ErrConnAborted) || errors.Is(err, syscall.ECONNABORTED)
}

// Recovery normalizes errors escaping the regular stages. Values that are not
// errors are handed to the next stage untouched.
func Recovery(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var nonErr *pipeline.NonError
		if errors.As(err, &nonErr) {
			return err
		}
		if IsBenignAbort(c, err) {
			logger.WithFields(logrus.Fields{
				"action":     "request_abort",
				"request_id": RequestID(c),
				"path":       c.Path(),
			}).Debug("client aborted not-modified response")
			return nil
		}
		// 早于 InstallReporter 失败的请求（如限流）在这里补装 Reporter。
		return ensureReporter(c, logger).Report(c, err)
	}
}

// Final guarantees a response. Panic values that are not errors become the
// response body; anything else is rendered as an internal error.
func Final(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var nonErr *pipeline.NonError
		if !errors.As(err, &nonErr) {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "request_final",
				"request_id": RequestID(c),
				"path":       c.Path(),
			}).Error("unhandled error reached final stage")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": httperr.MsgInternal})
		}

		switch body := nonErr.Value.(type) {
		case string:
			return c.SendString(body)
		case []byte:
			return c.Send(body)
		default:
			return c.JSON(body)
		}
	}
}
