// Package observability provides a metrics extension that records job
// and event lifecycle counters through OpenTelemetry. Register it with
// the extension registry to track enqueue rates, completions, failures,
// cancellations, pauses, resumes, and published events.
package observability
