// Package preflight runs environment checks before the daemon starts
// processing: directory access, render server reachability and free VRAM,
// LLM credentials, and the optional FastVideo backend. The CLI renders the
// same results on demand.
package preflight
