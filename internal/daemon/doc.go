// Package daemon coordinates the long-running StoryReel process.
//
// It wires configuration, the queue store, and the workflow manager into a
// single lifecycle with flock-based locking so only one daemon touches the
// queue at a time. The daemon also exposes the queue maintenance operations
// the CLI needs (listing, retries, clears, health) so both the foreground
// `storyreel run` command and storyreeld share one implementation.
//
// Keep orchestration logic here: individual pipeline stages live in their
// own packages, the daemon focuses on startup, shutdown, and coordination.
package daemon
