// Package render runs remote render jobs with bounded retry: submit a
// workflow, poll the server's history at a fixed interval until a terminal
// state, wait a grace period for output files to settle, then collect
// artifacts against a frame floor. Jobs that time out, error, or come back
// below the floor are resubmitted until the retry budget is spent. Every
// attempt is recorded as telemetry, successful or not.
package render
