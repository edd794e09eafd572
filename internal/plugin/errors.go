package plugin

import "fmt"

// ConfigurationError reports a declared plugin that cannot be used. It is
// always fatal to startup.
type ConfigurationError struct {
	Category string
	Plugin   string
	Index    int
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s[%d] %q: %s", e.Category, e.Index, e.Plugin, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
