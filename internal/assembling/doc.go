// Package assembling finalizes a story run: it validates the generated
// artifacts against the run manifest, writes the manifest beside them,
// packages the run into a zip archive in the library, and routes runs with
// failed scenes to manual review.
package assembling
