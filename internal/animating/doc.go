// Package animating turns each rendered keyframe into a short clip, either
// through the FastVideo backend or by running a video workflow on the
// ComfyUI server. Scene failures are independent and tracked in the run
// manifest.
package animating
