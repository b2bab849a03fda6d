// Package prometheus renders authcore engine counters in Prometheus text
// exposition format.
//
// [NewExporter] takes any source with MetricsSnapshot and AuditDropped
// (normally the *authcore.Engine) and exposes an [http.Handler] for
// /metrics. Counter names are authcore_*_total; the one histogram is
// authcore_validate_access_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
