// Package api implements the npm registry endpoints served by the core stage
// of the pipeline.
package api

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/storage"
)

type handler struct {
	cfg    *config.Config
	auth   *auth.Auth
	store  storage.Storage
	logger *logrus.Logger
}

// Register mounts the registry API on router. Specific /-/ routes are added
// before the generic package routes so they win the match.
func Register(router pipeline.Router, cfg *config.Config, a *auth.Auth, store storage.Storage, logger *logrus.Logger) {
	h := &handler{cfg: cfg, auth: a, store: store, logger: logger}

	router.Named("auth").Use(a.Middleware())

	router.Named("ping").Get("/-/ping", h.ping)
	router.Named("whoami").Get("/-/whoami", h.whoami)
	router.Named("login").Put("/-/user/:user", h.login)
	router.Named("search").Get("/-/v1/search", h.search)

	router.Named("package").Get("/:p1", h.getByPath)
	router.Named("package").Get("/:p1/:p2", h.getByPath)
	router.Named("package").Get("/:p1/:p2/:p3", h.getByPath)
	router.Named("package").Get("/:p1/:p2/:p3/:p4", h.getByPath)
	router.Named("publish").Put("/:p1", h.publish)
	router.Named("publish").Put("/:p1/:p2", h.publish)
}

// packageRef 是从请求路径解析出的包名 + 版本/文件名。
type packageRef struct {
	name     string
	version  string
	filename string
}

// parseRef 兼容 "@scope%2fname" 与 "@scope/name" 两种作用域写法。
func parseRef(segments []string) (packageRef, bool) {
	parts := make([]string, 0, len(segments)+1)
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return packageRef{}, false
		}
		parts = append(parts, strings.Split(decoded, "/")...)
	}
	if len(parts) == 0 || parts[0] == "-" || strings.HasPrefix(parts[0], "_") {
		return packageRef{}, false
	}

	nameParts := 1
	if strings.HasPrefix(parts[0], "@") {
		nameParts = 2
	}
	if len(parts) < nameParts {
		return packageRef{}, false
	}
	ref := packageRef{name: strings.Join(parts[:nameParts], "/")}
	rest := parts[nameParts:]

	switch {
	case len(rest) == 0:
	case len(rest) == 1:
		ref.version = rest[0]
	case len(rest) == 2 && rest[0] == "-":
		ref.filename = rest[1]
	default:
		return packageRef{}, false
	}
	return ref, true
}

func pathSegments(c fiber.Ctx) []string {
	return []string{c.Params("p1"), c.Params("p2"), c.Params("p3"), c.Params("p4")}
}

func (h *handler) requireAccess(c fiber.Ctx, name string) error {
	user := auth.RemoteUser(c)
	if h.auth.CanAccess(user, name) {
		return nil
	}
	return denied(user, "access", name)
}

func (h *handler) requirePublish(c fiber.Ctx, name string) error {
	user := auth.RemoteUser(c)
	if h.auth.CanPublish(user, name) {
		return nil
	}
	return denied(user, "publish", name)
}

func denied(user auth.User, action, name string) error {
	if !user.Authenticated() {
		return httperr.Unauthorized(fmt.Sprintf("authorization required to %s package %s", action, name))
	}
	return httperr.Forbidden(fmt.Sprintf("user %s is not allowed to %s package %s", user.Name, action, name))
}

// storageError 将存储层错误映射为面向客户端的 httperr。
func storageError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return httperr.NotFound(notFound)
	case errors.Is(err, storage.ErrInvalidName):
		return httperr.Wrap(fiber.StatusBadRequest, "invalid package or file name", err)
	case errors.Is(err, storage.ErrUplinkUnavailable):
		return httperr.Wrap(fiber.StatusBadGateway, httperr.MsgUplinkOffline, err)
	default:
		return httperr.Internal(err)
	}
}

func baseURL(c fiber.Ctx) string {
	return c.Scheme() + "://" + c.Host()
}
