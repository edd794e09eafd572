package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UserAgent == "" {
		t.Fatalf("UserAgent 应该自动填充默认值")
	}
	if cfg.RateLimit.Max != 500 {
		t.Fatalf("RateLimit.Max 应当被解析，得到 %d", cfg.RateLimit.Max)
	}
	if cfg.RateLimit.Window.DurationValue() != time.Second {
		t.Fatalf("RateLimit.Window 应当被解析")
	}
	if cfg.Web.Enable {
		t.Fatalf("Web.Enable 应被配置覆盖为 false")
	}
	if cfg.Global.MetadataTTL.DurationValue() != 2*time.Minute {
		t.Fatalf("MetadataTTL 默认应为 2m")
	}
	if len(cfg.Filters) != 1 || cfg.Filters[0].Name != "semver-filter" {
		t.Fatalf("Filter 声明未被解析: %+v", cfg.Filters)
	}
	if len(cfg.Middlewares) != 2 || cfg.Middlewares[1].Name != "audit" {
		t.Fatalf("Middleware 声明未被解析: %+v", cfg.Middlewares)
	}
	if cfg.Middlewares[1].Config == nil {
		t.Fatalf("插件 Config 应被保留")
	}
	if cfg.ConfigPath == "" {
		t.Fatalf("ConfigPath 应记录配置文件路径")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRateLimit(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Max = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("RateLimit.Max 为 0 应当报错")
	}
}

func TestValidatePluginSpecs(t *testing.T) {
	testCases := []struct {
		name      string
		specs     []PluginSpec
		shouldErr bool
	}{
		{"empty list", nil, false},
		{"single", []PluginSpec{{Name: "audit"}}, false},
		{"missing name", []PluginSpec{{Name: " "}}, true},
		{"duplicate", []PluginSpec{{Name: "audit"}, {Name: "AUDIT"}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Middlewares = tc.specs
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for %+v", tc.specs)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for %+v: %v", tc.specs, err)
			}
		})
	}
}

func TestValidateRejectsUnknownGroup(t *testing.T) {
	cfg := validConfig()
	cfg.Packages = []PackageAccess{{Pattern: "**", Access: []string{"$everyone"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知分组应当报错")
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := validConfig()
	cfg.Middlewares = []PluginSpec{{
		Name:   "audit",
		Config: map[string]any{"nested": map[string]any{"enabled": true}},
	}}

	clone := cfg.Clone()
	clone.Middlewares[0].Config["nested"].(map[string]any)["enabled"] = false
	clone.Packages[0].Access[0] = "$anonymous"

	if cfg.Middlewares[0].Config["nested"].(map[string]any)["enabled"] != true {
		t.Fatalf("修改副本不应影响原配置")
	}
	if cfg.Packages[0].Access[0] != "$all" {
		t.Fatalf("Packages 应被深拷贝")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:  4873,
			StoragePath: "./data",
			UserAgent:   "any-registry/test",
		},
		RateLimit: RateLimitConfig{Window: Duration(time.Second), Max: 100},
		Web:       WebConfig{Enable: true},
		Packages:  DefaultPackageAccess(),
	}
}
