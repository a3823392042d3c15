// Package queue persists story runs in SQLite and exposes the status
// state machine the workflow manager drives. One queue item is one
// story run: an idea that gets scripted, rendered scene by scene, and
// assembled into an archived artifact set.
package queue
