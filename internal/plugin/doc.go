// Package plugin resolves [[Filter]] and [[Middleware]] declarations into
// plugin instances.
//
// Plugins register a Factory under a name from their package init(); the
// server imports the plugin packages for side effects. Load constructs every
// declared plugin in order and confirms it exposes the capability required by
// its category, failing with a ConfigurationError otherwise.
package plugin
