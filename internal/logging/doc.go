// Package logging wraps log/slog with the handlers, attribute helpers, and
// standardized field keys used across Storyreel.
package logging
