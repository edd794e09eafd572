package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有组件共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	StorageInitTimeout Duration `mapstructure:"StorageInitTimeout"`
	UserAgent          string   `mapstructure:"UserAgent"`
	Debug              bool     `mapstructure:"Debug"`
	Secret             string   `mapstructure:"Secret"`
	Uplink             string   `mapstructure:"Uplink"`
	UplinkTimeout      Duration `mapstructure:"UplinkTimeout"`
	MetadataTTL        Duration `mapstructure:"MetadataTTL"`
	MaxBodySize        int      `mapstructure:"MaxBodySize"`
}

// RateLimitConfig 对应内置限流阶段：Window 时间窗内每个客户端最多 Max 个请求。
type RateLimitConfig struct {
	Window Duration `mapstructure:"Window"`
	Max    int      `mapstructure:"Max"`
}

// WebConfig 控制 Web UI 阶段是否挂载。
type WebConfig struct {
	Enable bool   `mapstructure:"Enable"`
	Title  string `mapstructure:"Title"`
}

// AuthConfig 描述 htpasswd 用户文件与 token 签发参数。
type AuthConfig struct {
	HtpasswdFile string   `mapstructure:"HtpasswdFile"`
	MaxUsers     int      `mapstructure:"MaxUsers"`
	TokenTTL     Duration `mapstructure:"TokenTTL"`
}

// PackageAccess 以 glob 匹配包名，声明读取/发布所需的用户或分组。
type PackageAccess struct {
	Pattern string   `mapstructure:"Pattern"`
	Access  []string `mapstructure:"Access"`
	Publish []string `mapstructure:"Publish"`
}

// PluginSpec 对应一个 [[Filter]] 或 [[Middleware]] 条目，Config 原样交给插件工厂。
type PluginSpec struct {
	Name   string         `mapstructure:"Name"`
	Config map[string]any `mapstructure:"Config"`
}

// Config 是 TOML 文件映射的整体结构。Load 之后视为只读，启动流程只读取 Clone 出的副本。
type Config struct {
	Global      GlobalConfig    `mapstructure:",squash"`
	RateLimit   RateLimitConfig `mapstructure:"RateLimit"`
	Web         WebConfig       `mapstructure:"Web"`
	Auth        AuthConfig      `mapstructure:"Auth"`
	Packages    []PackageAccess `mapstructure:"Package"`
	Filters     []PluginSpec    `mapstructure:"Filter"`
	Middlewares []PluginSpec    `mapstructure:"Middleware"`

	// ConfigPath 记录配置文件的绝对路径，供 debug 钩子输出。
	ConfigPath string `mapstructure:"-"`
}

// Clone 返回深拷贝，插件配置中的嵌套 map/slice 也会被复制。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Packages = make([]PackageAccess, len(c.Packages))
	for i, p := range c.Packages {
		out.Packages[i] = PackageAccess{
			Pattern: p.Pattern,
			Access:  append([]string(nil), p.Access...),
			Publish: append([]string(nil), p.Publish...),
		}
	}
	out.Filters = cloneSpecs(c.Filters)
	out.Middlewares = cloneSpecs(c.Middlewares)
	return &out
}

// Uplinked 表示是否配置了上游 registry。
func (c *Config) Uplinked() bool {
	return strings.TrimSpace(c.Global.Uplink) != ""
}

// PluginNames 返回某一类插件的名称列表，保持声明顺序，用于日志字段。
func PluginNames(specs []PluginSpec) []string {
	if len(specs) == 0 {
		return nil
	}
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	return names
}

func cloneSpecs(specs []PluginSpec) []PluginSpec {
	if specs == nil {
		return nil
	}
	out := make([]PluginSpec, len(specs))
	for i, spec := range specs {
		out[i] = PluginSpec{Name: spec.Name, Config: cloneMap(spec.Config)}
	}
	return out
}

// CloneSettings 深拷贝插件配置，避免插件修改共享配置。
func CloneSettings(in map[string]any) map[string]any {
	return cloneMap(in)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(typed))
		for i, item := range typed {
			out[i] = cloneMap(item)
		}
		return out
	default:
		return v
	}
}
