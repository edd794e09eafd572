package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/logging"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/storage"
)

type stubFilter struct{ name string }

func (s *stubFilter) FilterMetadata(_ context.Context, m *storage.Manifest) (*storage.Manifest, error) {
	return m, nil
}

type stubMiddleware struct{ name string }

func (s *stubMiddleware) RegisterMiddlewares(pipeline.Router, *auth.Auth, storage.Storage) error {
	return nil
}

func TestRegistryRegisterResolve(t *testing.T) {
	reg := NewRegistry()
	factory := func(map[string]any, Params) (any, error) { return &stubFilter{}, nil }

	if err := reg.Register("Semver-Filter", factory); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, ok := reg.Resolve("semver-filter"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	if err := reg.Register("semver-filter", factory); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := reg.Register("  ", factory); err == nil {
		t.Fatalf("empty name should fail")
	}
	if err := reg.Register("nil", nil); err == nil {
		t.Fatalf("nil factory should fail")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "semver-filter" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestLoadPreservesDeclarationOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		reg.MustRegister(name, func(map[string]any, Params) (any, error) {
			return &stubMiddleware{name: name}, nil
		})
	}

	specs := []config.PluginSpec{{Name: "c"}, {Name: "a"}, {Name: "b"}, {Name: "a"}}
	loaded, err := Load(reg, CategoryMiddlewares, specs, Params{Logger: logging.Discard()}, MiddlewareCapability)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	var got []string
	for _, m := range loaded {
		got = append(got, m.(*stubMiddleware).name)
	}
	if len(got) != 4 || got[0] != "c" || got[1] != "a" || got[2] != "b" || got[3] != "a" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestLoadEmptyIsNotAnError(t *testing.T) {
	loaded, err := Load(NewRegistry(), CategoryFilters, nil, Params{}, FilterCapability)
	if err != nil || len(loaded) != 0 {
		t.Fatalf("expected empty result, got %v %v", loaded, err)
	}
}

func TestLoadRejectsUnusablePlugins(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("filter-only", func(map[string]any, Params) (any, error) { return &stubFilter{}, nil })
	reg.MustRegister("broken", func(map[string]any, Params) (any, error) { return nil, errors.New("bad config") })
	reg.MustRegister("empty", func(map[string]any, Params) (any, error) { return nil, nil })

	cases := []struct {
		name   string
		reason string
	}{
		{name: "missing", reason: "plugin not registered"},
		{name: "filter-only", reason: "missing capability"},
		{name: "broken", reason: "construction failed"},
		{name: "empty", reason: "factory returned nil"},
	}
	for _, tc := range cases {
		_, err := Load(reg, CategoryMiddlewares, []config.PluginSpec{{Name: tc.name}}, Params{}, MiddlewareCapability)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected ConfigurationError, got %v", tc.name, err)
		}
		if cfgErr.Plugin != tc.name || cfgErr.Category != CategoryMiddlewares {
			t.Fatalf("%s: unexpected error fields %+v", tc.name, cfgErr)
		}
		if len(cfgErr.Reason) < len(tc.reason) || cfgErr.Reason[:len(tc.reason)] != tc.reason {
			t.Fatalf("%s: unexpected reason %q", tc.name, cfgErr.Reason)
		}
	}
}

func TestFactoryReceivesIsolatedConfig(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("mutator", func(cfg map[string]any, _ Params) (any, error) {
		cfg["enabled"] = false
		return &stubFilter{}, nil
	})

	shared := map[string]any{"enabled": true}
	if _, err := Load(reg, CategoryFilters, []config.PluginSpec{{Name: "mutator", Config: shared}}, Params{}, FilterCapability); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if shared["enabled"] != true {
		t.Fatalf("factory must not mutate declared config")
	}
}

func TestDecodeConfig(t *testing.T) {
	var out struct {
		Enabled bool          `mapstructure:"enabled"`
		Timeout time.Duration `mapstructure:"timeout"`
		MaxRPS  float64       `mapstructure:"max_rps"`
		Tags    []string      `mapstructure:"tags"`
	}
	raw := map[string]any{"enabled": "true", "timeout": "3s", "max_rps": int64(5), "tags": "a,b"}
	if err := DecodeConfig(raw, &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !out.Enabled || out.Timeout != 3*time.Second || out.MaxRPS != 5 || len(out.Tags) != 2 {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}
