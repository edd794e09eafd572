package server

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/api"
	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/middleware"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/plugin"
	"github.com/any-hub/any-registry/internal/storage"
	"github.com/any-hub/any-registry/internal/web"

	// 内置插件通过 init() 注册到全局注册表。
	_ "github.com/any-hub/any-registry/internal/plugin/audit"
	_ "github.com/any-hub/any-registry/internal/plugin/metrics"
	_ "github.com/any-hub/any-registry/internal/plugin/semverfilter"
)

const ownerCore = "core"

type loadedMiddleware struct {
	name   string
	plugin plugin.Middleware
}

type deps struct {
	cfg         *config.Config
	logger      *logrus.Logger
	auth        *auth.Auth
	store       storage.Storage
	middlewares []loadedMiddleware
	registry    *plugin.Registry
}

func assemble(d deps) (*Server, error) {
	p, err := buildPipeline(d)
	if err != nil {
		return nil, err
	}
	app, err := p.Build()
	if err != nil {
		return nil, err
	}
	return &Server{
		app:      app,
		pipeline: p,
		cfg:      d.cfg,
		store:    d.store,
		auth:     d.auth,
		logger:   d.logger,
	}, nil
}

// buildPipeline 按固定顺序登记全部 stage：内置横切关注点、插件、核心 API、Web、兜底 404 与错误恢复。
func buildPipeline(d deps) (*pipeline.Pipeline, error) {
	cfg := d.cfg
	p := pipeline.New(fiber.Config{
		AppName:       "any-registry",
		CaseSensitive: true,
		Immutable:     true,
		BodyLimit:     cfg.Global.MaxBodySize,
	})

	builtin := p.Scope(pipeline.PositionBuiltin, ownerCore)
	builtin.Named("cors").Use(cors.New())
	builtin.Named("rate-limit").Use(rateLimit(cfg.RateLimit))
	builtin.Named("log").Use(middleware.RequestLog(d.logger))
	builtin.Named("error-reporting").Use(middleware.InstallReporter(d.logger))
	builtin.Named("powered-by").Use(middleware.PoweredBy(cfg.Global.UserAgent))
	builtin.Named("favicon").Use(middleware.FaviconRewrite(web.FaviconPath))
	builtin.Named("compress").Use(compress.New())
	if cfg.Global.Debug {
		registerDebug(builtin, p, d)
	}

	for _, m := range d.middlewares {
		router := p.Scope(pipeline.PositionPlugin, m.name)
		if err := m.plugin.RegisterMiddlewares(router, d.auth, d.store); err != nil {
			return nil, fmt.Errorf("register middleware %s: %w", m.name, err)
		}
	}

	api.Register(p.Scope(pipeline.PositionCore, "api"), cfg, d.auth, d.store, d.logger)
	if cfg.Web.Enable {
		web.Register(p.Scope(pipeline.PositionCore, "web"), cfg, d.auth, d.store, d.logger)
	} else {
		web.RegisterDisabled(p.Scope(pipeline.PositionCore, "web"))
	}

	p.Scope(pipeline.PositionCatchAll, ownerCore).Named("not-found").Use(middleware.NotFound())
	p.Recover("error-recovery", middleware.Recovery(d.logger))
	p.Recover("final", middleware.Final(d.logger))
	return p, nil
}

// rateLimit 超限请求立即以 429 失败，不排队。
func rateLimit(cfg config.RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window.DurationValue(),
		LimitReached: func(fiber.Ctx) error {
			return httperr.TooManyRequests()
		},
	})
}
