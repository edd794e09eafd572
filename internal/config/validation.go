package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var knownGroups = map[string]struct{}{
	"$all":           {},
	"$authenticated": {},
	"$anonymous":     {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.StorageInitTimeout.DurationValue() < 0 {
		return newFieldError("Global.StorageInitTimeout", "不能为负数")
	}
	if g.MetadataTTL.DurationValue() < 0 {
		return newFieldError("Global.MetadataTTL", "不能为负数")
	}
	if g.MaxBodySize < 0 {
		return newFieldError("Global.MaxBodySize", "不能为负数")
	}
	if g.Uplink != "" {
		if err := validateUpstream(g.Uplink); err != nil {
			return fmt.Errorf("Global.Uplink: %w", err)
		}
	}

	if c.RateLimit.Max <= 0 {
		return newFieldError("RateLimit.Max", "必须大于 0")
	}
	if c.RateLimit.Window.DurationValue() <= 0 {
		return newFieldError("RateLimit.Window", "必须大于 0")
	}

	for i, pkg := range c.Packages {
		if strings.TrimSpace(pkg.Pattern) == "" {
			return newFieldError(listField("Package", "", i, "Pattern"), "不能为空")
		}
		if _, err := doublestar.Match(pkg.Pattern, ""); err != nil {
			return newFieldError(listField("Package", pkg.Pattern, i, "Pattern"), "glob 语法错误")
		}
		for _, group := range append(append([]string(nil), pkg.Access...), pkg.Publish...) {
			if strings.HasPrefix(group, "$") {
				if _, ok := knownGroups[group]; !ok {
					return newFieldError(listField("Package", pkg.Pattern, i, "Access/Publish"), "未知分组 "+group)
				}
			}
		}
	}

	if err := validatePluginSpecs("Filter", c.Filters); err != nil {
		return err
	}
	return validatePluginSpecs("Middleware", c.Middlewares)
}

// validatePluginSpecs 只校验声明本身（名称非空且不重复），插件是否存在由 plugin 加载器判定。
func validatePluginSpecs(list string, specs []PluginSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		name := strings.ToLower(strings.TrimSpace(spec.Name))
		if name == "" {
			return newFieldError(listField(list, "", i, "Name"), "不能为空")
		}
		if _, exists := seen[name]; exists {
			return newFieldError(listField(list, spec.Name, i, "Name"), "重复")
		}
		seen[name] = struct{}{}
	}
	return nil
}

func validateUpstream(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
