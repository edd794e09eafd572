package middleware

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/httperr"
)

// Reporter renders a request failure as {"error": message}. It reports at
// most once per request.
type Reporter struct {
	logger   *logrus.Logger
	reported bool
}

// Reported 表示本请求是否已经输出过错误响应。
func (r *Reporter) Reported() bool {
	return r.reported
}

// Report writes the structured error response for err.
func (r *Reporter) Report(c fiber.Ctx, err error) error {
	if r.reported || err == nil {
		return nil
	}
	r.reported = true

	status := httperr.StatusCode(err)
	fields := logrus.Fields{
		"action":     "request_error",
		"request_id": RequestID(c),
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     status,
	}
	if status >= fiber.StatusInternalServerError {
		r.logger.WithError(err).WithFields(fields).Error("request failed")
	} else {
		r.logger.WithError(err).WithFields(fields).Debug("request rejected")
	}

	return c.Status(status).JSON(fiber.Map{"error": httperr.PublicMessage(err)})
}

// InstallReporter 为每个请求安装 Reporter，必须排在任何可能失败的 stage 之前。
func InstallReporter(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals(localsReporter, &Reporter{logger: logger})
		return c.Next()
	}
}

// ReporterFrom returns the Reporter installed on c, if any.
func ReporterFrom(c fiber.Ctx) (*Reporter, bool) {
	reporter, ok := c.Locals(localsReporter).(*Reporter)
	return reporter, ok && reporter != nil
}

func ensureReporter(c fiber.Ctx, logger *logrus.Logger) *Reporter {
	if reporter, ok := ReporterFrom(c); ok {
		return reporter
	}
	reporter := &Reporter{logger: logger}
	c.Locals(localsReporter, reporter)
	return reporter
}
