// Package pipeline records the ordered request stages of the registry server
// and compiles them into a Fiber application.
//
// Stages are grouped by Position. Registration must follow the position order
// (builtin, plugin, core, catch-all, recovery); a stage registered after a
// later position has been opened is recorded as a violation and makes Build
// fail, so a misbehaving plugin cannot sneak a stage in front of the built-in
// cross-cutting concerns.
package pipeline
