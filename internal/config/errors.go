package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// listField 用于拼接数组条目字段路径，输出 Filter[name].Field 或 Package[#2].Field 形式。
func listField(list, name string, idx int, field string) string {
	if name == "" {
		return fmt.Sprintf("%s[#%d].%s", list, idx, field)
	}
	return fmt.Sprintf("%s[%s].%s", list, name, field)
}
