package plugin

import (
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/logging"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/storage"
)

// Categories of declared plugins.
const (
	CategoryFilters     = "filters"
	CategoryMiddlewares = "middlewares"
)

// DefaultMiddleware is installed when no middleware plugin is declared.
const DefaultMiddleware = "audit"

// DefaultMiddlewareSpec 返回兜底插件的声明：强制启用并校验证书。
func DefaultMiddlewareSpec() config.PluginSpec {
	return config.PluginSpec{
		Name:   DefaultMiddleware,
		Config: map[string]any{"enabled": true, "strict_ssl": true},
	}
}

// Filter is the capability required from [[Filter]] plugins.
type Filter = storage.MetadataFilter

// Middleware is the capability required from [[Middleware]] plugins. The
// plugin appends zero or more stages through router.
type Middleware interface {
	RegisterMiddlewares(router pipeline.Router, auth *auth.Auth, store storage.Storage) error
}

// Selector checks that an instance exposes the capability T.
type Selector[T any] func(instance any) (T, bool)

// FilterCapability selects instances implementing Filter.
func FilterCapability(instance any) (Filter, bool) {
	f, ok := instance.(Filter)
	return f, ok
}

// MiddlewareCapability selects instances implementing Middleware.
func MiddlewareCapability(instance any) (Middleware, bool) {
	m, ok := instance.(Middleware)
	return m, ok
}

// Load constructs every spec in declaration order. An empty spec list yields
// an empty result; any unresolvable or incapable plugin aborts the load.
func Load[T any](reg *Registry, category string, specs []config.PluginSpec, params Params, selector Selector[T]) ([]T, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if reg == nil {
		reg = defaultRegistry
	}

	out := make([]T, 0, len(specs))
	for i, spec := range specs {
		factory, ok := reg.Resolve(spec.Name)
		if !ok {
			return nil, &ConfigurationError{Category: category, Plugin: spec.Name, Index: i, Reason: "plugin not registered"}
		}

		instance, err := factory(copyConfig(spec.Config), params)
		if err != nil {
			return nil, &ConfigurationError{Category: category, Plugin: spec.Name, Index: i, Reason: "construction failed", Err: err}
		}
		if instance == nil {
			return nil, &ConfigurationError{Category: category, Plugin: spec.Name, Index: i, Reason: "factory returned nil"}
		}

		selected, ok := selector(instance)
		if !ok {
			return nil, &ConfigurationError{
				Category: category,
				Plugin:   spec.Name,
				Index:    i,
				Reason:   "missing capability for " + category + " (got " + reflect.TypeOf(instance).String() + ")",
			}
		}
		out = append(out, selected)

		if params.Logger != nil {
			params.Logger.WithFields(logging.PluginFields(category, spec.Name, i)).Info("plugin loaded")
		}
	}
	return out, nil
}

// DecodeConfig decodes a plugin's raw config into out. Keys are matched
// case-insensitively against `mapstructure` tags and durations accept Go
// duration strings.
func DecodeConfig(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func copyConfig(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return config.CloneSettings(in)
}
