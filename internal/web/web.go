// Package web serves the minimal HTML front page and its static assets.
package web

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/storage"
	"github.com/any-hub/any-registry/internal/version"
)

// FaviconPath is the target of the /favicon.ico rewrite stage.
const FaviconPath = "/-/static/favicon.png"

//go:embed templates/index.html
var templateFS embed.FS

//go:embed static/favicon.png
var favicon []byte

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type indexData struct {
	Title    string
	Registry string
	Version  string
	Packages []storage.SearchResult
}

// Register mounts the front page and static assets.
func Register(router pipeline.Router, cfg *config.Config, a *auth.Auth, store storage.Storage, logger *logrus.Logger) {
	title := cfg.Web.Title
	if title == "" {
		title = "any-registry"
	}

	router.Named("web-static").Get(FaviconPath, func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "image/png")
		c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
		return c.Send(favicon)
	})

	router.Named("web-index").Get("/", func(c fiber.Ctx) error {
		results, err := store.Search(c.Context(), "")
		if err != nil {
			return httperr.Internal(err)
		}
		user := auth.RemoteUser(c)
		visible := make([]storage.SearchResult, 0, len(results))
		for _, r := range results {
			if a.CanAccess(user, r.Name) {
				visible = append(visible, r)
			}
		}

		var buf bytes.Buffer
		err = indexTemplate.Execute(&buf, indexData{
			Title:    title,
			Registry: c.Scheme() + "://" + c.Host() + "/",
			Version:  version.Full(),
			Packages: visible,
		})
		if err != nil {
			logger.WithError(err).WithField("action", "web_render").Error("render index failed")
			return httperr.Internal(err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.Send(buf.Bytes())
	})
}

// RegisterDisabled mounts the stage used when the web UI is turned off.
func RegisterDisabled(router pipeline.Router) {
	router.Named("web-disabled").Get("/", func(fiber.Ctx) error {
		return httperr.NotFound(httperr.MsgWebDisabled)
	})
}
