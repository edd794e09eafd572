package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/plugin"
	"github.com/any-hub/any-registry/internal/storage"
)

// State is a step of the startup sequence.
type State string

const (
	StateCreated             State = "created"
	StateConfigResolved      State = "config_resolved"
	StateFiltersLoaded       State = "filters_loaded"
	StateStorageInitializing State = "storage_initializing"
	StateStorageReady        State = "storage_ready"
	StateMiddlewaresLoaded   State = "middlewares_loaded"
	StatePipelineBuilt       State = "pipeline_built"
	StateRunning             State = "running"
	StateFailed              State = "failed"
)

// ErrAlreadyStarted 表示同一个 Bootstrapper 的 Run 被调用了多次。
var ErrAlreadyStarted = errors.New("server: bootstrap already started")

// StartupError reports the state the bootstrap failed to reach.
type StartupError struct {
	Stage State
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// StorageFactory builds the storage handle. It must not perform I/O; the
// bootstrap calls Init separately.
type StorageFactory func(cfg *config.Config, logger *logrus.Logger) (storage.Storage, error)

// Options carries the explicit dependencies of a Bootstrapper.
type Options struct {
	Logger     *logrus.Logger
	Registry   *plugin.Registry
	NewStorage StorageFactory
}

// Bootstrapper runs the startup state machine once.
type Bootstrapper struct {
	logger     *logrus.Logger
	registry   *plugin.Registry
	newStorage StorageFactory

	mu       sync.Mutex
	state    State
	failedAt State
	history  []State
	started  bool
}

// NewBootstrapper validates opts; Registry and NewStorage default to the
// global plugin registry and local disk storage.
func NewBootstrapper(opts Options) (*Bootstrapper, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	b := &Bootstrapper{
		logger:     opts.Logger,
		registry:   opts.Registry,
		newStorage: opts.NewStorage,
		state:      StateCreated,
		history:    []State{StateCreated},
	}
	if b.registry == nil {
		b.registry = plugin.Default()
	}
	if b.newStorage == nil {
		b.newStorage = func(cfg *config.Config, logger *logrus.Logger) (storage.Storage, error) {
			return storage.NewLocal(cfg, logger)
		}
	}
	return b, nil
}

// State returns the current state.
func (b *Bootstrapper) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailedAt 返回失败时正在进入的状态；未失败时为空。
func (b *Bootstrapper) FailedAt() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failedAt
}

// History returns every state entered so far, in order.
func (b *Bootstrapper) History() []State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]State(nil), b.history...)
}

func (b *Bootstrapper) advance(next State) {
	b.mu.Lock()
	b.state = next
	b.history = append(b.history, next)
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"action": "bootstrap",
		"state":  string(next),
	}).Debug("bootstrap state changed")
}

func (b *Bootstrapper) fail(stage State, err error) error {
	b.mu.Lock()
	b.state = StateFailed
	b.failedAt = stage
	b.history = append(b.history, StateFailed)
	b.mu.Unlock()

	b.logger.WithError(err).WithFields(logrus.Fields{
		"action": "bootstrap",
		"stage":  string(stage),
	}).Error("bootstrap failed")
	return &StartupError{Stage: stage, Err: err}
}

// Run resolves cfg, loads plugins, initializes storage and builds the
// pipeline. The returned Server is ready to Listen.
func (b *Bootstrapper) Run(ctx context.Context, cfg *config.Config) (*Server, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	b.started = true
	b.mu.Unlock()

	if cfg == nil {
		return nil, b.fail(StateConfigResolved, errors.New("config is nil"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, b.fail(StateConfigResolved, err)
	}
	resolved := cfg.Clone()
	b.advance(StateConfigResolved)

	params := plugin.Params{Config: resolved, Logger: b.logger}
	filters, err := plugin.Load(b.registry, plugin.CategoryFilters, resolved.Filters, params, plugin.FilterCapability)
	if err != nil {
		return nil, b.fail(StateFiltersLoaded, err)
	}
	b.advance(StateFiltersLoaded)

	store, err := b.newStorage(resolved, b.logger)
	if err != nil {
		return nil, b.fail(StateStorageInitializing, fmt.Errorf("create storage: %w", err))
	}
	b.advance(StateStorageInitializing)

	if err := b.initStorage(ctx, store, resolved, filters); err != nil {
		return nil, b.fail(StateStorageReady, fmt.Errorf("storage init: %w", err))
	}
	b.advance(StateStorageReady)

	authz, err := auth.New(resolved, b.logger)
	if err != nil {
		return nil, b.fail(StateMiddlewaresLoaded, fmt.Errorf("auth: %w", err))
	}
	specs := resolved.Middlewares
	if len(specs) == 0 {
		specs = []config.PluginSpec{plugin.DefaultMiddlewareSpec()}
		b.logger.WithFields(logrus.Fields{
			"action": "plugin_load",
			"plugin": plugin.DefaultMiddleware,
		}).Info("no middleware declared, installing default")
	}
	middlewares, err := plugin.Load(b.registry, plugin.CategoryMiddlewares, specs, params, plugin.MiddlewareCapability)
	if err != nil {
		return nil, b.fail(StateMiddlewaresLoaded, err)
	}
	b.advance(StateMiddlewaresLoaded)

	loaded := make([]loadedMiddleware, len(middlewares))
	for i, m := range middlewares {
		loaded[i] = loadedMiddleware{name: specs[i].Name, plugin: m}
	}
	srv, err := assemble(deps{
		cfg:         resolved,
		logger:      b.logger,
		auth:        authz,
		store:       store,
		middlewares: loaded,
		registry:    b.registry,
	})
	if err != nil {
		return nil, b.fail(StatePipelineBuilt, err)
	}
	b.advance(StatePipelineBuilt)

	b.advance(StateRunning)
	b.logger.WithFields(logrus.Fields{
		"action":      "bootstrap",
		"filters":     config.PluginNames(resolved.Filters),
		"middlewares": config.PluginNames(specs),
		"stages":      len(srv.pipeline.Stages()),
	}).Info("registry ready")
	return srv, nil
}

// initStorage 在可选超时内执行存储初始化，失败不会重试。
func (b *Bootstrapper) initStorage(ctx context.Context, store storage.Storage, cfg *config.Config, filters []plugin.Filter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := cfg.Global.StorageInitTimeout.DurationValue(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- store.Init(ctx, cfg, filters)
	}()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	b.logger.WithFields(logrus.Fields{
		"action":     "storage_init",
		"filters":    len(filters),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("storage initialized")
	return nil
}
