/*
Package metrics exposes Prometheus instrumentation and process health.

All series carry the tagmesh_ prefix and register themselves with the default
registry at init. The health checker aggregates per-component liveness for the
/healthz and /readyz endpoints served next to /metrics.
*/
package metrics
