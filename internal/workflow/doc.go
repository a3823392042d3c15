// Package workflow drives story runs through the pipeline: it polls the
// queue for the next eligible item, moves it into the matching processing
// status, executes the stage handler under a heartbeat, and persists the
// outcome. Runs are processed one stage at a time, sequentially.
package workflow
