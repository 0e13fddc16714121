// Package log provides the global zerolog logger and child-logger helpers
// used across Tagmesh components.
package log
