// Package main hosts the StoryReel CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into queue
// operations against the shared SQLite store, preflight checks, configuration
// scaffolding, and a foreground daemon mode. It centralizes configuration
// resolution and store access so subcommands can focus on user experience
// instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
