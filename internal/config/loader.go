package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/any-registry/internal/version"
)

const (
	defaultListenPort  = 4873
	defaultMaxBodySize = 10 * 1024 * 1024
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// 返回的 Config 已完全解析（相对路径已展开），后续组件不得修改。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absConfig, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("无法解析配置路径: %w", err)
	}
	cfg.ConfigPath = absConfig

	// 与上游 registry 的约定一致：相对路径以配置文件所在目录为基准。
	baseDir := filepath.Dir(absConfig)
	cfg.Global.StoragePath = resolvePath(baseDir, cfg.Global.StoragePath)
	if cfg.Auth.HtpasswdFile != "" {
		cfg.Auth.HtpasswdFile = resolvePath(baseDir, cfg.Auth.HtpasswdFile)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageInitTimeout", "0s")
	v.SetDefault("UserAgent", version.UserAgent())
	v.SetDefault("Debug", false)
	v.SetDefault("Uplink", "https://registry.npmjs.org")
	v.SetDefault("UplinkTimeout", "30s")
	v.SetDefault("MetadataTTL", "2m")
	v.SetDefault("MaxBodySize", defaultMaxBodySize)
	v.SetDefault("RateLimit.Window", "1s")
	v.SetDefault("RateLimit.Max", 10000)
	v.SetDefault("Web.Enable", true)
	v.SetDefault("Web.Title", "any-registry")
	v.SetDefault("Auth.HtpasswdFile", "./htpasswd")
	v.SetDefault("Auth.MaxUsers", 1000)
	v.SetDefault("Auth.TokenTTL", "168h")
}

func applyGlobalDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if g.UserAgent == "" {
		g.UserAgent = version.UserAgent()
	}
	if g.UplinkTimeout.DurationValue() == 0 {
		g.UplinkTimeout = Duration(30 * time.Second)
	}
	if g.MaxBodySize == 0 {
		g.MaxBodySize = defaultMaxBodySize
	}
	if cfg.RateLimit.Window.DurationValue() == 0 {
		cfg.RateLimit.Window = Duration(time.Second)
	}
	if cfg.Auth.TokenTTL.DurationValue() == 0 {
		cfg.Auth.TokenTTL = Duration(7 * 24 * time.Hour)
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = DefaultPackageAccess()
	}
}

// DefaultPackageAccess 在未声明 [[Package]] 时生效：任何人可读，登录用户可发布。
func DefaultPackageAccess() []PackageAccess {
	return []PackageAccess{
		{Pattern: "@*/*", Access: []string{"$all"}, Publish: []string{"$authenticated"}},
		{Pattern: "**", Access: []string{"$all"}, Publish: []string{"$authenticated"}},
	}
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
