// Package scripting turns a queued story idea into a structured scene
// script via the LLM service and persists it on the queue item.
package scripting
