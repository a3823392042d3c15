// Package comfy is an HTTP client for a ComfyUI server: prompt submission,
// history polling, system stats, and an optional websocket progress feed.
// History polling is the source of truth for job completion; the websocket
// only improves progress reporting.
package comfy
