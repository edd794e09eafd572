package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/config"
)

// Params are handed to every factory alongside the plugin's own config.
type Params struct {
	Config *config.Config
	Logger *logrus.Logger
}

// Factory builds a plugin instance from its declared config.
type Factory func(cfg map[string]any, params Params) (any, error)

var defaultRegistry = NewRegistry()

// Registry maps plugin names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建独立注册表，测试可借此避免污染全局注册表。
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns the registry populated by plugin init() functions.
func Default() *Registry {
	return defaultRegistry
}

// Register 将工厂加入全局注册表，重复名称会返回错误。
func Register(name string, factory Factory) error {
	return defaultRegistry.Register(name, factory)
}

// MustRegister 在注册失败时 panic，适合插件 init() 中调用。
func MustRegister(name string, factory Factory) {
	defaultRegistry.MustRegister(name, factory)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	key := normalizeName(name)
	if key == "" {
		return fmt.Errorf("plugin name is required")
	}
	if factory == nil {
		return fmt.Errorf("plugin %s: factory is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("plugin %s already registered", key)
	}
	r.factories[key] = factory
	return nil
}

func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve 按名称（大小写不敏感）查找工厂。
func (r *Registry) Resolve(name string) (Factory, bool) {
	key := normalizeName(name)
	if key == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[key]
	return factory, ok
}

// Names 返回按字母排序的插件名，供诊断输出。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
