/*
Package observability provides the metrics and tracing used by the dialog engine.

Metrics are Prometheus collectors registered on a caller-supplied Registerer,
so several engines can live in one process without colliding. A nil *Metrics
is valid and records nothing. Tracing goes through the global OpenTelemetry
provider, which is a no-op until the host installs one.
*/
package observability
