// Package textutil provides text helpers for run titles and filesystem names.
//
// Run titles come from LLM output or raw user ideas, so they need cleanup
// before they appear in archive names, artifact directories, or notification
// text. The helpers here lowercase and slug titles for paths and apply
// locale-aware title casing for display.
package textutil
