// Package notifications publishes workflow events to an ntfy topic. Events
// are gated per category in configuration and deduplicated within a short
// window so retry loops do not spam the topic. When no topic is configured
// every publish is a no-op.
package notifications
