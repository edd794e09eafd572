package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求方法/路径/状态等字段，供请求日志阶段复用。
func RequestFields(requestID, method, path string, status int, remoteUser string, elapsed time.Duration) logrus.Fields {
	return logrus.Fields{
		"action":      "request",
		"request_id":  requestID,
		"method":      method,
		"path":        path,
		"status":      status,
		"remote_user": remoteUser,
		"elapsed_ms":  elapsed.Milliseconds(),
	}
}

// PluginFields 描述插件加载相关字段。
func PluginFields(category, name string, index int) logrus.Fields {
	return logrus.Fields{
		"action":   "plugin_load",
		"category": category,
		"plugin":   name,
		"index":    index,
	}
}
