// Package audit forwards `npm audit` requests to an upstream security
// endpoint. It is the default middleware plugin installed when the
// configuration declares none.
package audit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/plugin"
	"github.com/any-hub/any-registry/internal/storage"
	"github.com/any-hub/any-registry/internal/upstream"
)

// Name is the registry key of the plugin.
const Name = plugin.DefaultMiddleware

const (
	defaultUpstream = "https://registry.npmjs.org"
	routePath       = "/-/npm/v1/security/*"
	msgAuditOffline = "audit service unavailable"
)

func init() {
	plugin.MustRegister(Name, New)
}

// Config is decoded from the plugin's [Middleware.Config] table.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	StrictSSL bool          `mapstructure:"strict_ssl"`
	Upstream  string        `mapstructure:"upstream"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxRPS    float64       `mapstructure:"max_rps"`
}

// Plugin proxies audit requests.
type Plugin struct {
	cfg       Config
	client    *http.Client
	limiter   *rate.Limiter
	logger    *logrus.Logger
	userAgent string
}

// New builds the plugin; unset fields inherit the registry's uplink settings.
func New(raw map[string]any, params plugin.Params) (any, error) {
	cfg := Config{Enabled: true, StrictSSL: true}
	if err := plugin.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxRPS < 0 {
		return nil, errors.New("max_rps must not be negative")
	}

	if cfg.Upstream == "" && params.Config != nil && params.Config.Uplinked() {
		cfg.Upstream = params.Config.Global.Uplink
	}
	if cfg.Upstream == "" {
		cfg.Upstream = defaultUpstream
	}
	cfg.Upstream = strings.TrimSuffix(cfg.Upstream, "/")
	if cfg.Timeout <= 0 && params.Config != nil {
		cfg.Timeout = params.Config.Global.UplinkTimeout.DurationValue()
	}

	p := &Plugin{
		cfg:    cfg,
		client: upstream.NewClient(upstream.Options{Timeout: cfg.Timeout, StrictSSL: cfg.StrictSSL}),
		logger: params.Logger,
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	if params.Config != nil {
		p.userAgent = params.Config.Global.UserAgent
	}
	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}
	return p, nil
}

// Settings returns the effective configuration.
func (p *Plugin) Settings() Config {
	return p.cfg
}

// RegisterMiddlewares adds a single stage for the npm security endpoints.
func (p *Plugin) RegisterMiddlewares(router pipeline.Router, _ *auth.Auth, _ storage.Storage) error {
	if !p.cfg.Enabled {
		p.logger.WithField("action", "plugin_register").Info("audit plugin disabled")
		return nil
	}
	router.Named("audit-proxy").Post(routePath, p.handle)
	return nil
}

func (p *Plugin) handle(c fiber.Ctx) error {
	if p.limiter != nil && !p.limiter.Allow() {
		return httperr.TooManyRequests()
	}

	target := p.cfg.Upstream + c.OriginalURL()
	req, err := http.NewRequestWithContext(c.Context(), http.MethodPost, target, bytes.NewReader(c.Body()))
	if err != nil {
		return httperr.Internal(err)
	}
	for _, key := range []string{fiber.HeaderContentType, fiber.HeaderContentEncoding, fiber.HeaderAccept, fiber.HeaderAcceptEncoding} {
		if value := c.Get(key); value != "" {
			req.Header.Set(key, value)
		}
	}
	if p.userAgent != "" {
		req.Header.Set(fiber.HeaderUserAgent, p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"action":   "audit_proxy",
			"upstream": target,
		}).Warn("audit upstream request failed")
		return httperr.Wrap(fiber.StatusBadGateway, msgAuditOffline, err)
	}
	defer resp.Body.Close()

	headers := http.Header{}
	upstream.CopyHeaders(headers, resp.Header)
	for key, values := range headers {
		if strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Append(key, value)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Response().BodyWriter(), resp.Body); err != nil {
		return fmt.Errorf("copy audit response: %w", err)
	}
	return nil
}
