/*
Package types defines the core data model shared across Tagmesh packages.

The persisted side (Switch, TagRule, FilterRule) mirrors the desired-state
store's logical tables. The derived side (CanonicalEntry, EntryKey) is the
normalized representation every comparison runs on: rules are never diffed in
their raw persisted shape. CycleReport and SwitchReport carry per-tick
outcomes to the caller and are not retained by the engine.
*/
package types
