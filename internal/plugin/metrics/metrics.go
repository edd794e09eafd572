// Package metrics exposes Prometheus request metrics for the registry.
package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/plugin"
	"github.com/any-hub/any-registry/internal/storage"
)

// Name is the registry key of the plugin.
const Name = "metrics"

func init() {
	plugin.MustRegister(Name, New)
}

// Config is decoded from the plugin's [Middleware.Config] table.
type Config struct {
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Plugin counts requests and serves them on Config.Path. Each instance owns
// its own prometheus.Registry.
type Plugin struct {
	cfg      Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New builds the plugin.
func New(raw map[string]any, params plugin.Params) (any, error) {
	cfg := Config{Path: "/-/metrics", Namespace: "any_registry"}
	if err := plugin.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}

	p := &Plugin{
		cfg:      cfg,
		logger:   params.Logger,
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being served.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method"}),
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	p.registry.MustRegister(p.inFlight, p.requests, p.duration)
	return p, nil
}

// Registry exposes the collector registry, mainly for tests.
func (p *Plugin) Registry() *prometheus.Registry {
	return p.registry
}

// RegisterMiddlewares adds the instrumentation stage and the scrape endpoint.
func (p *Plugin) RegisterMiddlewares(router pipeline.Router, _ *auth.Auth, store storage.Storage) error {
	if store != nil {
		packages := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: p.cfg.Namespace,
			Name:      "packages",
			Help:      "Number of packages known to local storage.",
		}, func() float64 {
			names, err := store.ListPackages(context.Background())
			if err != nil {
				return 0
			}
			return float64(len(names))
		})
		if err := p.registry.Register(packages); err != nil {
			return err
		}
	}

	router.Named("metrics-instrument").Use(p.instrument)
	router.Named("metrics-endpoint").Get(p.cfg.Path,
		adaptor.HTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})))
	return nil
}

func (p *Plugin) instrument(c fiber.Ctx) error {
	if c.Path() == p.cfg.Path {
		return c.Next()
	}

	start := time.Now()
	p.inFlight.Inc()
	defer p.inFlight.Dec()

	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = httperr.StatusCode(err)
	}
	method := strings.ToUpper(c.Method())
	p.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	p.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return err
}
