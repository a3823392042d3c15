// Package fastvideo is an HTTP client for the FastVideo generation server,
// which turns a scene keyframe plus a motion prompt into a short video clip.
package fastvideo
