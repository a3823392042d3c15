// Package rendering generates a keyframe image per script scene by running
// bounded-retry jobs against the ComfyUI server. Scene failures are
// independent: a failed scene is marked in the run manifest and its siblings
// still render.
package rendering
