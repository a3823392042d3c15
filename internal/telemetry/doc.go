// Package telemetry records per-attempt render telemetry as JSONL files, one
// file per story run. Telemetry is advisory: recording failures are logged by
// callers and never fail a run.
package telemetry
